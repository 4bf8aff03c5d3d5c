package feishu

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Card templates
// =============================================================================

// RiskAlert is the content of a risk alert card.
type RiskAlert struct {
	Kind       string // opened / escalated
	RiskType   string
	Severity   string
	ProjectID  string
	Reason     string
	Action     string
	Subjects   []string
	DetectedAt time.Time
	Link       string
}

// severityTemplates maps severities to header colors.
var severityTemplates = map[string]string{
	"CRITICAL": "red",
	"HIGH":     "orange",
	"MEDIUM":   "yellow",
	"LOW":      "blue",
}

// NewRiskAlertCard builds the early-warning card for an opened or escalated risk.
func NewRiskAlertCard(a RiskAlert) InteractiveCard {
	template, ok := severityTemplates[a.Severity]
	if !ok {
		template = "blue"
	}
	title := fmt.Sprintf("[%s] %s risk", a.Severity, a.RiskType)
	if a.Kind == "escalated" {
		title += " escalated"
	}

	project := a.ProjectID
	if project == "" {
		project = "All projects"
	}

	elements := []CardElement{
		{
			Tag: "div",
			Fields: []CardField{
				{IsShort: true, Text: CardText{Tag: "lark_md", Content: fmt.Sprintf("**Project**\n%s", project)}},
				{IsShort: true, Text: CardText{Tag: "lark_md", Content: fmt.Sprintf("**Detected**\n%s", a.DetectedAt.UTC().Format("2006-01-02 15:04"))}},
			},
		},
		{
			Tag:  "div",
			Text: &CardText{Tag: "lark_md", Content: fmt.Sprintf("**Reason**\n%s", a.Reason)},
		},
	}
	if len(a.Subjects) > 0 {
		elements = append(elements, CardElement{
			Tag:  "div",
			Text: &CardText{Tag: "lark_md", Content: fmt.Sprintf("**Work units**\n%s", strings.Join(a.Subjects, "\n"))},
		})
	}
	if a.Action != "" {
		elements = append(elements,
			CardElement{Tag: "hr"},
			CardElement{
				Tag:  "div",
				Text: &CardText{Tag: "lark_md", Content: fmt.Sprintf("**Recommended action**\n%s", a.Action)},
			},
		)
	}
	if a.Link != "" {
		elements = append(elements, CardElement{
			Tag: "action",
			Actions: []CardAction{
				{Tag: "button", Text: CardText{Tag: "plain_text", Content: "Open risk feed"}, Type: "primary", URL: a.Link},
			},
		})
	}

	return InteractiveCard{
		Config:   &CardConfig{WideScreenMode: true},
		Header:   &CardHeader{Title: CardText{Tag: "plain_text", Content: title}, Template: template},
		Elements: elements,
	}
}
