package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"tasklog-api/domain"
)

const maxBodySize = 64 * 1024 // 64 KiB

var (
	errInvalidBody = errors.New("invalid request body")
	errEmptyTitle  = errors.New("title must not be empty")
)

var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// requestValidator adapts validator/v10 to echo.Validator and reports JSON
// field names.
type requestValidator struct {
	v *validator.Validate
}

// NewValidator returns the echo.Validator used for request payloads.
func NewValidator() echo.Validator {
	return &requestValidator{v: payloadValidator}
}

func (r *requestValidator) Validate(i any) error {
	if err := r.v.Struct(i); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "max":
		return fmt.Errorf("%s must be at most %s characters", field, fe.Param())
	case "gt":
		return fmt.Errorf("%s must be a positive integer", field)
	default:
		return fmt.Errorf("%s failed %s validation", field, fe.Tag())
	}
}

// flexBool accepts JSON booleans and the strings "true", "1", "false", "0".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		v, err := parseFlexBool(s)
		if err != nil {
			return err
		}
		*b = flexBool(v)
		return nil
	}
	switch string(data) {
	case "true":
		*b = true
	case "false":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

func parseFlexBool(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// isoTime accepts RFC 3339 timestamps, zone-less timestamps (read as UTC)
// and plain dates.
type isoTime struct {
	time.Time
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	time.DateOnly,
}

func (t *isoTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("dueDate must be an ISO-8601 string")
	}
	parsed, err := parseISOTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func parseISOTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 date %q", s)
}

// optionalID distinguishes an absent id, an explicit null and a value.
type optionalID struct {
	domain.NullableID
}

func (o *optionalID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		o.NullableID = domain.SetNull()
		return nil
	}
	raw := string(data)
	if raw[0] == '"' {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return errors.New("responsibleId must be a positive integer")
	}
	o.NullableID = domain.SetID(id)
	return nil
}

type createTaskRequest struct {
	Title         string   `json:"title" validate:"required,max=255"`
	Description   string   `json:"description"`
	DueDate       *isoTime `json:"dueDate" validate:"required"`
	IsCompleted   flexBool `json:"isCompleted"`
	IsPublic      flexBool `json:"isPublic"`
	Comments      *string  `json:"comments"`
	ResponsibleID *int64   `json:"responsibleId" validate:"omitempty,gt=0"`
	TagNames      []string `json:"tagNames" validate:"omitempty,dive,required,max=50"`
}

func (r *createTaskRequest) normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.Comments = trimmedPtr(r.Comments)
	r.TagNames = trimAll(r.TagNames)
}

func (r *createTaskRequest) toInput() domain.TaskInput {
	return domain.TaskInput{
		Title:         r.Title,
		Description:   r.Description,
		DueDate:       r.DueDate.Time,
		IsCompleted:   bool(r.IsCompleted),
		IsPublic:      bool(r.IsPublic),
		Comments:      r.Comments,
		ResponsibleID: r.ResponsibleID,
		TagNames:      domain.NormalizeTagNames(r.TagNames),
	}
}

type updateTaskRequest struct {
	Title         *string    `json:"title" validate:"omitempty,max=255"`
	Description   *string    `json:"description"`
	DueDate       *isoTime   `json:"dueDate"`
	IsCompleted   *flexBool  `json:"isCompleted"`
	IsPublic      *flexBool  `json:"isPublic"`
	Comments      *string    `json:"comments"`
	ResponsibleID optionalID `json:"responsibleId"`
	TagNames      *[]string  `json:"tagNames"`
}

func (r *updateTaskRequest) normalize() error {
	r.Title = trimmedPtr(r.Title)
	if r.Title != nil && *r.Title == "" {
		return errEmptyTitle
	}
	r.Description = trimmedPtr(r.Description)
	r.Comments = trimmedPtr(r.Comments)
	if r.TagNames != nil {
		names := trimAll(*r.TagNames)
		r.TagNames = &names
	}
	return nil
}

func (r *updateTaskRequest) validateTags() error {
	if r.TagNames == nil {
		return nil
	}
	if err := payloadValidator.Var(*r.TagNames, "dive,required,max=50"); err != nil {
		return errors.New("tagNames must contain non-empty names of at most 50 characters")
	}
	return nil
}

func (r *updateTaskRequest) toPatch() domain.TaskPatch {
	p := domain.TaskPatch{
		Title:         r.Title,
		Description:   r.Description,
		Comments:      r.Comments,
		ResponsibleID: r.ResponsibleID.NullableID,
	}
	if r.DueDate != nil {
		d := r.DueDate.Time
		p.DueDate = &d
	}
	if r.IsCompleted != nil {
		v := bool(*r.IsCompleted)
		p.IsCompleted = &v
	}
	if r.IsPublic != nil {
		v := bool(*r.IsPublic)
		p.IsPublic = &v
	}
	if r.TagNames != nil {
		names := domain.NormalizeTagNames(*r.TagNames)
		p.TagNames = &names
	}
	return p
}

// decodeBody reads at most maxBodySize bytes of JSON into dst and rejects
// unknown fields.
func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errInvalidBody
		}
		return fmt.Errorf("%w: %s", errInvalidBody, err.Error())
	}
	return nil
}

// parseListQuery reads and validates the list query string.
func parseListQuery(c echo.Context) (domain.ListQuery, error) {
	q := domain.ListQuery{Page: 1, Limit: domain.DefaultPageLimit}

	if raw := strings.TrimSpace(c.QueryParam("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > domain.MaxPage {
			return q, fmt.Errorf("page must be an integer between 1 and %d", domain.MaxPage)
		}
		q.Page = n
	}
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > domain.MaxPageLimit {
			return q, fmt.Errorf("limit must be an integer between 1 and %d", domain.MaxPageLimit)
		}
		q.Limit = n
	}
	for _, f := range []struct {
		name string
		dst  **bool
	}{
		{"isCompleted", &q.IsCompleted},
		{"isPublic", &q.IsPublic},
	} {
		raw := c.QueryParam(f.name)
		if raw == "" {
			continue
		}
		v, err := parseFlexBool(raw)
		if err != nil {
			return q, fmt.Errorf("%s must be a boolean", f.name)
		}
		*f.dst = &v
	}
	if raw := strings.TrimSpace(c.QueryParam("responsibleId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return q, errors.New("responsibleId must be a positive integer")
		}
		q.ResponsibleID = &id
	}
	q.Search = strings.TrimSpace(c.QueryParam("search"))
	return q, nil
}

func parseTaskID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("id must be a positive integer")
	}
	return id, nil
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func trimAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
