package feishu

// =============================================================================
// Bot webhook models
// =============================================================================

// BaseResponse is the common bot webhook response. Older bots answer with
// StatusCode/StatusMessage instead of Code/Msg.
type BaseResponse struct {
	Code          int    `json:"code"`
	Msg           string `json:"msg"`
	StatusCode    int    `json:"StatusCode"`
	StatusMessage string `json:"StatusMessage"`
}

func (r BaseResponse) failed() (int, string, bool) {
	if r.Code != 0 {
		return r.Code, r.Msg, true
	}
	if r.StatusCode != 0 {
		return r.StatusCode, r.StatusMessage, true
	}
	return 0, "", false
}

// WebhookMessage is the body posted to a custom bot.
type WebhookMessage struct {
	Timestamp string           `json:"timestamp,omitempty"`
	Sign      string           `json:"sign,omitempty"`
	MsgType   string           `json:"msg_type"`
	Content   *TextContent     `json:"content,omitempty"`
	Card      *InteractiveCard `json:"card,omitempty"`
}

// TextContent is the content of a text message.
type TextContent struct {
	Text string `json:"text"`
}

// =============================================================================
// Message card models
// =============================================================================

// InteractiveCard is an interactive message card.
type InteractiveCard struct {
	Config   *CardConfig   `json:"config,omitempty"`
	Header   *CardHeader   `json:"header,omitempty"`
	Elements []CardElement `json:"elements,omitempty"`
}

type CardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

// CardHeader is the card title. Template is the header color: blue/green/red/orange/yellow.
type CardHeader struct {
	Title    CardText `json:"title"`
	Template string   `json:"template,omitempty"`
}

// CardText is plain_text or lark_md.
type CardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// CardElement is a generic card element: div/hr/action/note/markdown.
type CardElement struct {
	Tag      string        `json:"tag"`
	Text     *CardText     `json:"text,omitempty"`
	Fields   []CardField   `json:"fields,omitempty"`
	Actions  []CardAction  `json:"actions,omitempty"`
	Elements []CardElement `json:"elements,omitempty"`
	Content  string        `json:"content,omitempty"`
}

type CardField struct {
	IsShort bool     `json:"is_short"`
	Text    CardText `json:"text"`
}

// CardAction is a button.
type CardAction struct {
	Tag   string            `json:"tag"`
	Text  CardText          `json:"text"`
	Type  string            `json:"type,omitempty"`
	URL   string            `json:"url,omitempty"`
	Value map[string]string `json:"value,omitempty"`
}
