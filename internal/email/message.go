package email

import (
	"bytes"
	"html"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/microcosm-cc/bluemonday"
)

const (
	SubjectLoginCode     = "Your login code"
	SubjectConfirmEmail  = "Confirm your email"
	SubjectPasswordReset = "Your password reset code"
)

// Message is a rendered email with a plain text and an HTML part.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type templatePair struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

func newTemplatePair(name, textSrc, htmlSrc string) templatePair {
	return templatePair{
		text: texttemplate.Must(texttemplate.New(name).Parse(textSrc)),
		html: htmltemplate.Must(htmltemplate.New(name).Parse(htmlSrc)),
	}
}

func (p templatePair) render(to, subject string, data any) (Message, error) {
	var textBuf, htmlBuf bytes.Buffer
	if err := p.text.Execute(&textBuf, data); err != nil {
		return Message{}, err
	}
	if err := p.html.Execute(&htmlBuf, data); err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: subject, Text: textBuf.String(), HTML: htmlBuf.String()}, nil
}

var (
	loginCodeTemplate = newTemplatePair("login-code",
		`Hello!

Your login code for {{.AppName}} is:

    {{.Code}}

This code will expire in {{.Minutes}} minutes.

If you didn't request this email, you can safely ignore it.

- The {{.AppName}} Team`,
		`<p>Hello!</p>
<p>Your login code for {{.AppName}} is:</p>
<p style="font-size:24px;font-weight:bold;letter-spacing:4px">{{.Code}}</p>
<p>This code will expire in {{.Minutes}} minutes.</p>
<p>If you didn't request this email, you can safely ignore it.</p>
<p>- The {{.AppName}} Team</p>`)

	confirmEmailTemplate = newTemplatePair("confirm-email",
		`Hi {{.UserName}},

Please confirm your {{.AppName}} account by opening this link:

{{.Link}}

If you didn't create an account, you can safely ignore this email.`,
		`<p>Hi {{.UserName}},</p>
<p>Please confirm your {{.AppName}} account by <a href="{{.Link}}">clicking here</a>.</p>
<p>If you didn't create an account, you can safely ignore this email.</p>`)

	passwordResetTemplate = newTemplatePair("password-reset",
		`Hi {{.UserName}},

Use this code to reset your {{.AppName}} password:

    {{.Code}}

If you didn't ask to reset your password, you can safely ignore this email.`,
		`<p>Hi {{.UserName}},</p>
<p>Use this code to reset your {{.AppName}} password:</p>
<pre>{{.Code}}</pre>
<p>If you didn't ask to reset your password, you can safely ignore this email.</p>`)
)

var plainPolicy = bluemonday.StrictPolicy()

// plain strips any markup from user-controlled values before they are
// placed into either message part.
func plain(v string) string {
	return strings.TrimSpace(html.UnescapeString(plainPolicy.Sanitize(v)))
}
