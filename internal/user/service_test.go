package user

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/adventure/internal/model"
	"github.com/hitoshi/adventure/internal/ratelimit"
	"github.com/hitoshi/adventure/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	user      *model.User
	findErr   error
	deleteErr error
	updateErr error
	language  string
	calls     *[]string
}

func (m *mockUserRepo) record(call string) {
	if m.calls != nil {
		*m.calls = append(*m.calls, call)
	}
}

func (m *mockUserRepo) FindByID(context.Context, int64) (*model.User, error) {
	return m.user, m.findErr
}
func (m *mockUserRepo) FindByProvider(context.Context, string, string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) Create(context.Context, *model.User) error { return nil }
func (m *mockUserRepo) UpdateProfile(context.Context, *model.User) error { return nil }
func (m *mockUserRepo) TouchLastLogin(context.Context, int64, time.Time) error { return nil }
func (m *mockUserRepo) UpdateLanguage(_ context.Context, _ int64, language string) error {
	m.language = language
	return m.updateErr
}
func (m *mockUserRepo) DeleteByID(context.Context, int64) error {
	m.record("user")
	return m.deleteErr
}

type mockSessionRepo struct {
	deleteErr error
	calls     *[]string
}

func (m *mockSessionRepo) Create(context.Context, *model.Session) error { return nil }
func (m *mockSessionRepo) FindByID(context.Context, string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) DeleteByID(context.Context, string) error { return nil }
func (m *mockSessionRepo) DeleteByUserID(context.Context, int64) error {
	*m.calls = append(*m.calls, "sessions")
	return m.deleteErr
}
func (m *mockSessionRepo) DeleteExpired(context.Context) (int64, error) { return 0, nil }

type mockQuotaReader struct {
	quotas []ratelimit.Quota
	err    error
}

func (m *mockQuotaReader) Status(context.Context, int64) ([]ratelimit.Quota, error) {
	return m.quotas, m.err
}

var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ QuotaReader = (*ratelimit.Limiter)(nil)

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

// --- テスト ---

func TestProfile(t *testing.T) {
	svc := NewService(&mockUserRepo{user: &model.User{ID: 1, Name: "Ada"}}, nil, nil)
	user, err := svc.Profile(context.Background(), 1)
	if err != nil || user.Name != "Ada" {
		t.Fatalf("Profile() = %+v, %v", user, err)
	}

	_, err = NewService(&mockUserRepo{}, nil, nil).Profile(context.Background(), 1)
	assertCode(t, err, model.ErrCodeUserNotFound)

	_, err = NewService(&mockUserRepo{findErr: errors.New("db down")}, nil, nil).Profile(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestUpdateLanguage_NormalizesAndStores(t *testing.T) {
	repo := &mockUserRepo{user: &model.User{ID: 1, Language: "en"}}
	svc := NewService(repo, nil, nil)

	lang, err := svc.UpdateLanguage(context.Background(), 1, "ja-JP")
	if err != nil {
		t.Fatalf("UpdateLanguage() error = %v", err)
	}
	if lang != "ja" || repo.language != "ja" {
		t.Errorf("lang = %q, stored = %q, want ja", lang, repo.language)
	}
}

func TestUpdateLanguage_Invalid(t *testing.T) {
	repo := &mockUserRepo{user: &model.User{ID: 1}}
	_, err := NewService(repo, nil, nil).UpdateLanguage(context.Background(), 1, "not a tag")
	assertCode(t, err, model.ErrCodeInvalidLanguage)
	if repo.language != "" {
		t.Error("invalid language must not be stored")
	}
}

func TestUpdateLanguage_UserNotFound(t *testing.T) {
	_, err := NewService(&mockUserRepo{}, nil, nil).UpdateLanguage(context.Background(), 1, "en")
	assertCode(t, err, model.ErrCodeUserNotFound)
}

func TestQuota(t *testing.T) {
	want := []ratelimit.Quota{{APIType: model.APITypeText, Limit: 100, Used: 3, Remaining: 97}}
	svc := NewService(nil, nil, &mockQuotaReader{quotas: want})

	got, err := svc.Quota(context.Background(), 1)
	if err != nil {
		t.Fatalf("Quota() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Quota() = %+v, want %+v", got, want)
	}

	svc = NewService(nil, nil, &mockQuotaReader{err: errors.New("db down")})
	if _, err := svc.Quota(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestWithdraw_DeletesSessionsThenUser(t *testing.T) {
	var calls []string
	svc := NewService(
		&mockUserRepo{user: &model.User{ID: 1}, calls: &calls},
		&mockSessionRepo{calls: &calls},
		nil,
	)

	if err := svc.Withdraw(context.Background(), 1); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if want := []string{"sessions", "user"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestWithdraw_UserNotFound(t *testing.T) {
	var calls []string
	svc := NewService(&mockUserRepo{calls: &calls}, &mockSessionRepo{calls: &calls}, nil)

	assertCode(t, svc.Withdraw(context.Background(), 1), model.ErrCodeUserNotFound)
	if len(calls) != 0 {
		t.Errorf("nothing should be deleted, got %v", calls)
	}
}

func TestWithdraw_SessionDeleteFailureKeepsUser(t *testing.T) {
	var calls []string
	svc := NewService(
		&mockUserRepo{user: &model.User{ID: 1}, calls: &calls},
		&mockSessionRepo{calls: &calls, deleteErr: errors.New("db down")},
		nil,
	)

	if err := svc.Withdraw(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}
	if want := []string{"sessions"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestWithdraw_UserDeleteFailure(t *testing.T) {
	var calls []string
	svc := NewService(
		&mockUserRepo{user: &model.User{ID: 1}, calls: &calls, deleteErr: errors.New("db down")},
		&mockSessionRepo{calls: &calls},
		nil,
	)
	if err := svc.Withdraw(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}
}
