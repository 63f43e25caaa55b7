// Package adventure はAI応答の検証と物語生成の一連の流れを提供する。
package adventure

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/adventure/internal/model"
)

// MaxStartingScenarios はParseStartingScenariosが受け付ける最大件数。
const MaxStartingScenarios = 4

// Issue は検証エラーの1項目を表す。
type Issue struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError はAI応答が期待する形を満たさない場合のエラー。
type ValidationError struct {
	Issues []Issue
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if issue.Field == "" {
			parts = append(parts, issue.Rule)
			continue
		}
		parts = append(parts, issue.Field+": "+issue.Rule)
	}
	return "invalid AI response: " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// エラーのフィールド名をJSONのキー名で報告する
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ParseAdventureNode はAI応答テキストを検証済みのAdventureNodeに変換する。
//
// Markdownのコードフェンスは取り除く。未知のフィールド、型の不一致、
// 複数のJSON値は全て拒否する。
func ParseAdventureNode(raw string) (*model.AdventureNode, error) {
	var node model.AdventureNode
	if err := decodeStrict(raw, &node); err != nil {
		return nil, err
	}
	if err := ValidateAdventureNode(&node); err != nil {
		return nil, err
	}
	return &node, nil
}

// ValidateAdventureNode はAdventureNodeの構造を検証する。
func ValidateAdventureNode(node *model.AdventureNode) error {
	if node == nil {
		return &ValidationError{Issues: []Issue{{Rule: "required"}}}
	}
	return toValidationError(validate.Struct(node))
}

// scenarioList はシナリオ配列の件数を検証するための入れ物。
type scenarioList struct {
	Scenarios []model.StartingScenario `json:"scenarios" validate:"required,min=1,max=4,dive"`
}

// ParseStartingScenarios はAI応答テキストを開始シナリオの配列に変換する。
// 配列は1〜4件で、各シナリオの全フィールドが必須。
func ParseStartingScenarios(raw string) ([]model.StartingScenario, error) {
	var list scenarioList
	if err := decodeStrict(raw, &list.Scenarios); err != nil {
		return nil, err
	}
	if err := toValidationError(validate.Struct(&list)); err != nil {
		return nil, err
	}
	return list.Scenarios, nil
}

// decodeStrict はコードフェンスを除去し、単一のJSON値を厳密にデコードする。
func decodeStrict(raw string, v any) error {
	body := stripCodeFence(raw)
	if body == "" {
		return &ValidationError{Issues: []Issue{{Rule: "empty"}}}
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return decodeError(err)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return &ValidationError{Issues: []Issue{{Rule: "single_value"}}}
	}
	return nil
}

// stripCodeFence は ```json ... ``` 形式の囲みを取り除く。
// 1行に収まった囲み（```{...}```）も受け付ける。
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	// 言語指定（```json）を読み飛ばす
	i := 0
	for i < len(s) && isASCIILetter(s[i]) {
		i++
	}
	if i == len(s) || strings.ContainsRune(" \t\r\n{[", rune(s[i])) {
		s = s[i:]
	}
	return strings.TrimSpace(s)
}

func isASCIILetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// decodeError はencoding/jsonのエラーをValidationErrorに変換する。
func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		return &ValidationError{Issues: []Issue{{Field: field, Rule: "type:" + typeErr.Value}}}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &ValidationError{Issues: []Issue{{Rule: "json"}}}
	}

	// DisallowUnknownFieldsのエラーは型を持たないため文字列から取り出す
	const unknownPrefix = "json: unknown field "
	if msg := err.Error(); strings.HasPrefix(msg, unknownPrefix) {
		return &ValidationError{Issues: []Issue{{Field: strings.Trim(strings.TrimPrefix(msg, unknownPrefix), `"`), Rule: "unknown"}}}
	}

	return &ValidationError{Issues: []Issue{{Rule: fmt.Sprintf("json: %v", err)}}}
}

// toValidationError はvalidatorのエラーをValidationErrorに変換する。
func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate AI response: %w", err)
	}

	issues := make([]Issue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		// 先頭の型名を取り除く（AdventureNode.choices[0].text → choices[0].text）
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		issues = append(issues, Issue{Field: field, Rule: rule})
	}
	return &ValidationError{Issues: issues}
}

// marshalIssues はログ出力用にIssueをJSON文字列にする。
func marshalIssues(err error) string {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(ve.Issues)
	return strings.TrimSpace(buf.String())
}
