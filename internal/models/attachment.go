package models

import (
	"fmt"
	"time"
)

// AttachmentKind is the declared type of an attachment.
type AttachmentKind string

const (
	AttachmentImage  AttachmentKind = "img"
	AttachmentText   AttachmentKind = "text"
	AttachmentOther  AttachmentKind = "misc"
	AttachmentSource AttachmentKind = "src"
)

// Language tags a source attachment for syntax highlighting.
type Language string

const (
	LangCLike      Language = "clike"
	LangPython     Language = "python"
	LangRuby       Language = "ruby"
	LangCSS        Language = "css"
	LangPHP        Language = "php"
	LangScala      Language = "scala"
	LangSQL        Language = "sql"
	LangBash       Language = "bash"
	LangJavaScript Language = "javascript"
	LangMarkup     Language = "markup"
)

var languages = map[Language]bool{
	LangCLike: true, LangPython: true, LangRuby: true, LangCSS: true, LangPHP: true,
	LangScala: true, LangSQL: true, LangBash: true, LangJavaScript: true, LangMarkup: true,
}

// Attachment is a file attached to a user story. The bytes live in a byte
// store under Handle; only metadata may change after creation.
type Attachment struct {
	ID          string
	StoryID     string
	Name        string
	Description string
	Filename    string
	ContentType string
	Size        int64
	Handle      string
	Kind        AttachmentKind
	Language    Language
	CreatedAt   time.Time
}

// ValidateKind checks the kind/language pair.
func ValidateKind(kind AttachmentKind, lang Language) error {
	switch kind {
	case AttachmentImage, AttachmentText, AttachmentOther:
		if lang != "" {
			return fmt.Errorf("language is only allowed for source attachments")
		}
		return nil
	case AttachmentSource:
		if !languages[lang] {
			return fmt.Errorf("unknown language: %q", lang)
		}
		return nil
	default:
		return fmt.Errorf("unknown attachment kind: %q", kind)
	}
}
