package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// LocalsKey is where Middleware stores the parsed *QueryRequest.
const LocalsKey = "query_request"

// markupPattern matches executable markup: a complete script element, an
// iframe tag, an inline event handler or a javascript: URL inside a tag.
// Questions that merely mention these ("what does <script> do?") pass.
var markupPattern = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>` +
	`|<iframe\b[^>]*>` +
	`|<[a-z][^>]*\son[a-z]+\s*=` +
	`|<[a-z][^>]*\b(?:href|src|action)\s*=\s*["']?\s*javascript:`)

var ErrUnsafeContent = errors.New("invalid query content")

type FileRef struct {
	Name     string `json:"name" validate:"required,max=255"`
	MIMEType string `json:"mime_type" validate:"required,max=255"`
}

// QueryRequest is the body of a query. An empty query is valid and is
// answered with a topic suggestion.
type QueryRequest struct {
	SessionID string    `json:"session_id" validate:"omitempty,uuid"`
	Query     string    `json:"query"`
	Files     []FileRef `json:"files" validate:"dive"`
}

type Config struct {
	MaxQueryLength      int
	MaxAttachments      int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

type Validator struct {
	cfg      Config
	validate *validator.Validate
}

func New(cfg Config) *Validator {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxAttachments <= 0 {
		cfg.MaxAttachments = 10
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Validator{cfg: cfg, validate: validator.New()}
}

// ValidateQuery checks req and trims its query in place.
func (v *Validator) ValidateQuery(req *QueryRequest) error {
	if err := v.validate.Struct(req); err != nil {
		return describe(err)
	}
	if err := v.validate.Var(req.Query, fmt.Sprintf("max=%d", v.cfg.MaxQueryLength)); err != nil {
		return fmt.Errorf("query exceeds maximum length of %d characters", v.cfg.MaxQueryLength)
	}
	if err := v.validate.Var(req.Files, fmt.Sprintf("max=%d", v.cfg.MaxAttachments)); err != nil {
		return fmt.Errorf("at most %d attachments are allowed", v.cfg.MaxAttachments)
	}
	if containsXSS(req.Query) {
		return ErrUnsafeContent
	}

	req.Query = sanitizeString(req.Query)
	return nil
}

func (v *Validator) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !v.allowedContentType(contentType) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		var req QueryRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if err := v.ValidateQuery(&req); err != nil {
			if errors.Is(err, ErrUnsafeContent) {
				v.cfg.Logger.Warn("Potential XSS attempt", zap.String("ip", c.IP()))
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		c.Locals(LocalsKey, &req)
		return c.Next()
	}
}

// QueryRequestFrom returns the request stored by Middleware.
func QueryRequestFrom(c *fiber.Ctx) (*QueryRequest, bool) {
	req, ok := c.Locals(LocalsKey).(*QueryRequest)
	return req, ok
}

func (v *Validator) allowedContentType(contentType string) bool {
	for _, allowed := range v.cfg.AllowedContentTypes {
		if strings.Contains(contentType, allowed) {
			return true
		}
	}
	return false
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fieldName(fe))
	case "uuid":
		return fmt.Errorf("%s must be a valid session id", fieldName(fe))
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fieldName(fe), fe.Param())
	default:
		return fmt.Errorf("%s is invalid", fieldName(fe))
	}
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

func containsXSS(input string) bool {
	return markupPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
