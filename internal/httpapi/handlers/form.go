package handlers

import (
	"errors"
	"mime/multipart"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
)

// projectForm carries the text fields of a project upload. Field order is
// the order validation messages are reported in.
type projectForm struct {
	Name        string `validate:"required,max=255"`
	Domain      string `validate:"required,max=255"`
	Description string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

const msgInvalidProject = "Invalid project data"

var requiredMessages = map[string]string{
	"Name":   "Project name is required",
	"Domain": "Project domain is required",
}

// validationMessage maps the first failing field to its client message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return msgInvalidProject
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		if msg, ok := requiredMessages[fe.Field()]; ok {
			return msg
		}
	}
	return msgInvalidProject
}

type domainForm struct {
	Domain string `validate:"max=255"`
}

var zipContentTypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
}

// isZipUpload detects an archive by file extension or by the part's
// declared content type.
func isZipUpload(h *multipart.FileHeader) bool {
	if strings.EqualFold(path.Ext(h.Filename), ".zip") {
		return true
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(h.Header.Get("Content-Type"), ";", 2)[0]))
	return zipContentTypes[ct]
}
