// Package prompt は物語履歴からLLMへのプロンプトを組み立てる。
// 全ての関数は純粋関数で、I/Oを行わない。
package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/hitoshi/adventure/internal/model"
)

// RecentEventsLimit はRecent Eventsに含める履歴の最大件数。
const RecentEventsLimit = 5

// StoryChoiceCount はAIに要求する選択肢の数。
const StoryChoiceCount = 3

// StartingScenarioCount はAIに要求する開始シナリオの数。
const StartingScenarioCount = 4

// StoryInput は次の物語ノードを生成するための入力。全フィールド省略可能。
type StoryInput struct {
	History         []model.StoryHistoryItem
	InitialScenario string
	Genre           string
	Tone            string
	VisualStyle     string
	Language        string
}

const storyIntro = `You are the narrator of an interactive text adventure. Continue the story from where it left off, reacting to the reader's latest choice. Keep the passage vivid but concise (two or three short paragraphs) and end at a moment that invites a decision.`

// BuildStoryPrompt は物語の続きを生成するプロンプトを返す。
//
// Previous Summaryには最新エントリのsummaryのみを使う。
// Initial Scenario Contextは履歴が1件以下のときだけ含め、最初のエントリのpassage
// （履歴が空ならInitialScenario）を使う。Recent Eventsは直近RecentEventsLimit件に限る。
// 空のセクションは出力しない。
func BuildStoryPrompt(in StoryInput) string {
	sections := []string{storyIntro}

	if s := previousSummary(in.History); s != "" {
		sections = append(sections, "Previous Summary:\n"+s)
	}

	if len(in.History) <= 1 {
		initial := strings.TrimSpace(in.InitialScenario)
		if len(in.History) == 1 {
			initial = strings.TrimSpace(in.History[0].Passage)
		}
		if initial != "" {
			sections = append(sections, "Initial Scenario Context:\n"+initial)
		}
	}

	if events := recentEvents(in.History); events != "" {
		sections = append(sections, "Recent Events:\n"+events)
	}

	if hints := styleHints(in.Genre, in.Tone, in.VisualStyle); hints != "" {
		sections = append(sections, "Style Guidance:\n"+hints)
	}

	if l := languageInstruction(in.Language); l != "" {
		sections = append(sections, l)
	}

	sections = append(sections, storyOutputFormat(in.VisualStyle))

	return joinSections(sections)
}

// BuildStartingScenariosPrompt は開始シナリオ候補を生成するプロンプトを返す。
func BuildStartingScenariosPrompt(lang string) string {
	sections := []string{
		fmt.Sprintf(`Suggest exactly %d diverse starting scenarios for an interactive text adventure. Include a mix of imaginative options (fantasy, science fiction, surreal) and conventional, grounded ones (mystery, everyday drama, historical). Each scenario is one or two sentences that drop the reader straight into a situation.`, StartingScenarioCount),
	}
	if l := languageInstruction(lang); l != "" {
		sections = append(sections, l)
	}
	sections = append(sections, fmt.Sprintf(`Output Format:
Respond with a single JSON array of exactly %d objects and nothing else. Each object has exactly these string fields:
- "text": the scenario description
- "genre": a short genre label
- "tone": a short tone label
- "visualStyle": a short art style for illustrations`, StartingScenarioCount))
	return joinSections(sections)
}

func previousSummary(history []model.StoryHistoryItem) string {
	if len(history) == 0 {
		return ""
	}
	return strings.TrimSpace(history[len(history)-1].Summary)
}

func recentEvents(history []model.StoryHistoryItem) string {
	if len(history) == 0 {
		return ""
	}

	start := 0
	var lines []string
	if len(history) > RecentEventsLimit {
		start = len(history) - RecentEventsLimit
		lines = append(lines, fmt.Sprintf("(Earlier events are condensed in the Previous Summary; only the last %d are shown.)", RecentEventsLimit))
	}

	for _, item := range history[start:] {
		passage := strings.TrimSpace(item.Passage)
		if passage != "" {
			lines = append(lines, passage)
		}
		if choice := strings.TrimSpace(item.Choice); choice != "" {
			lines = append(lines, "Reader chose: "+choice)
		}
	}
	return strings.Join(lines, "\n")
}

func styleHints(genre, tone, visualStyle string) string {
	var lines []string
	if g := strings.TrimSpace(genre); g != "" {
		lines = append(lines, "Genre: "+g)
	}
	if t := strings.TrimSpace(tone); t != "" {
		lines = append(lines, "Tone: "+t)
	}
	if v := strings.TrimSpace(visualStyle); v != "" {
		lines = append(lines, "Visual Style: "+v)
	}
	return strings.Join(lines, "\n")
}

// languageInstruction は英語以外の言語が指定された場合に出力言語の指示を返す。
func languageInstruction(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	if base.String() == "en" {
		return ""
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		name = tag.String()
	}
	return fmt.Sprintf("Write all story text, choices and the summary in %s. Keep the JSON field names in English.", name)
}

func storyOutputFormat(visualStyle string) string {
	style := "the story's visual style"
	if v := strings.TrimSpace(visualStyle); v != "" {
		style = fmt.Sprintf("the %q visual style", v)
	}
	return fmt.Sprintf(`Output Format:
Respond with a single JSON object and nothing else. It must have exactly these fields:
- "passage": string, the next part of the story
- "choices": array of exactly %d objects, each with only a "text" string describing an action the reader can take
- "imagePrompt": string, an illustration prompt describing only the scene in the new passage, in %s
- "updatedSummary": string, a concise summary of the whole story so far including the new passage`, StoryChoiceCount, style)
}

func joinSections(sections []string) string {
	nonEmpty := sections[:0]
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}
