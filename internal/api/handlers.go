package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"estatedesk/internal/auth"
	"estatedesk/internal/blob"
	"estatedesk/internal/media"
	"estatedesk/pkg/listing"
)

const presignExpiry = 15 * time.Minute

type healthResponse struct {
	Status string `json:"status"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      auth.Identity `json:"user"`
}

type kindResponse struct {
	Kind      listing.Kind  `json:"kind"`
	Title     string        `json:"title"`
	Table     string        `json:"table"`
	Namespace string        `json:"namespace"`
	Fields    []fieldSchema `json:"fields"`
}

type fieldSchema struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// recordRequest carries raw field inputs. Strings and JSON numbers are both
// accepted and go through the same validation as the console form.
type recordRequest struct {
	Fields map[string]any `json:"fields"`
}

type imagesResponse struct {
	Images []string `json:"images"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleSignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body")
	}
	sess, err := s.opts.Auth.IssueSession(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return writeError(c, http.StatusUnauthorized, err.Error())
		}
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, signInResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: sess.User})
}

func (s *Server) handleKinds(c echo.Context) error {
	schemas := listing.Schemas()
	out := make([]kindResponse, 0, len(schemas))
	for _, sc := range schemas {
		k := kindResponse{Kind: sc.Kind, Title: sc.Title, Table: sc.Table, Namespace: sc.Namespace}
		for _, f := range sc.Fields {
			typ := "text"
			if f.Type == listing.FieldNumber {
				typ = "number"
			}
			k.Fields = append(k.Fields, fieldSchema{Name: f.Name, Label: f.Label, Type: typ, Required: f.Required})
		}
		out = append(out, k)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleList(c echo.Context) error {
	schema, err := schemaParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	rows, err := s.opts.Records.List(c.Request().Context(), schema)
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = r.Flatten()
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreate(c echo.Context) error {
	schema, err := schemaParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	draft := listing.NewDraft(schema)
	if err := bindFields(c, schema, draft); err != nil {
		return s.fail(c, err)
	}
	values, err := draft.Values(schema)
	if err != nil {
		return s.fail(c, err)
	}
	rec, err := s.opts.Records.Create(c.Request().Context(), schema, values, nil)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, rec.Flatten())
}

func (s *Server) handleUpdate(c echo.Context) error {
	schema, err := schemaParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	rec, err := s.lookup(c, schema)
	if err != nil {
		return s.fail(c, err)
	}
	draft := listing.DraftFrom(schema, rec)
	if err := bindFields(c, schema, draft); err != nil {
		return s.fail(c, err)
	}
	values, err := draft.Values(schema)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.opts.Records.Update(c.Request().Context(), schema, rec.ID, values); err != nil {
		return s.fail(c, err)
	}
	updated, err := s.lookup(c, schema)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, updated.Flatten())
}

func (s *Server) handleDelete(c echo.Context) error {
	schema, err := schemaParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	rec, err := s.lookup(c, schema)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.opts.Records.Delete(c.Request().Context(), schema, rec); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAttachImages(c echo.Context) error {
	schema, err := schemaParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	rec, err := s.lookup(c, schema)
	if err != nil {
		return s.fail(c, err)
	}
	form, err := c.MultipartForm()
	if err != nil {
		return writeError(c, http.StatusBadRequest, "expected multipart form with files")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return writeError(c, http.StatusBadRequest, "no files uploaded")
	}
	files := make([]media.File, len(headers))
	for i, fh := range headers {
		files[i] = multipartFile(fh)
	}
	merged, err := s.opts.Records.AttachImages(c.Request().Context(), schema, rec.ID, rec.Images, files)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, imagesResponse{Images: merged})
}

func (s *Server) handleDetachImage(c echo.Context) error {
	schema, err := schemaParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	url := c.QueryParam("url")
	if url == "" {
		return writeError(c, http.StatusBadRequest, "url query parameter is required")
	}
	rec, err := s.lookup(c, schema)
	if err != nil {
		return s.fail(c, err)
	}
	if !slices.Contains(rec.Images, url) {
		return writeError(c, http.StatusNotFound, "image is not attached to this record")
	}
	remaining, err := s.opts.Records.DetachImage(c.Request().Context(), schema, rec.ID, rec.Images, url)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, imagesResponse{Images: remaining})
}

func (s *Server) handleMedia(c echo.Context) error {
	key := c.Param("*")
	if key == "" {
		return writeError(c, http.StatusNotFound, "not found")
	}
	ctx := c.Request().Context()
	if s.opts.Blobs.Driver() == blob.DriverS3 {
		u, err := s.opts.Blobs.PresignURL(ctx, key, blob.SignedURLOptions{Method: http.MethodGet, Expiry: presignExpiry})
		if err != nil {
			return s.fail(c, err)
		}
		return c.Redirect(http.StatusTemporaryRedirect, u)
	}
	info, rc, err := s.opts.Blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) {
			return writeError(c, http.StatusNotFound, "not found")
		}
		return s.fail(c, err)
	}
	defer func() { _ = rc.Close() }()
	contentType := info.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	return c.Stream(http.StatusOK, contentType, rc)
}

// bindFields overlays the request's raw inputs onto draft.
func bindFields(c echo.Context, schema listing.Schema, draft *listing.Draft) error {
	var req recordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var unknown []listing.FieldError
	for name, raw := range req.Fields {
		if _, ok := schema.Field(name); !ok {
			unknown = append(unknown, listing.FieldError{Field: name, Message: "is not a field of " + string(schema.Kind)})
			continue
		}
		switch v := raw.(type) {
		case string:
			draft.Set(name, v)
		case float64:
			draft.Set(name, strconv.FormatFloat(v, 'f', -1, 64))
		case nil:
			draft.Set(name, "")
		default:
			unknown = append(unknown, listing.FieldError{Field: name, Message: "must be a string or number"})
		}
	}
	if len(unknown) > 0 {
		return &listing.ValidationError{Kind: schema.Kind, Fields: unknown}
	}
	return nil
}

// lookup finds the record named by the :id parameter.
func (s *Server) lookup(c echo.Context, schema listing.Schema) (listing.Record, error) {
	id := c.Param("id")
	rows, err := s.opts.Records.List(c.Request().Context(), schema)
	if err != nil {
		return listing.Record{}, err
	}
	for _, r := range rows {
		if r.ID == id {
			return r, nil
		}
	}
	return listing.Record{}, fmt.Errorf("%s %s: %w", schema.Table, id, listing.ErrNotFound)
}

// fail maps domain errors onto status codes.
func (s *Server) fail(c echo.Context, err error) error {
	var (
		verr *listing.ValidationError
		herr *echo.HTTPError
	)
	switch {
	case errors.As(err, &herr):
		return writeError(c, herr.Code, fmt.Sprint(herr.Message))
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, listing.ErrNotFound):
		return writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, media.ErrTooLarge):
		return writeError(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, media.ErrForeignURL):
		return writeError(c, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("backend failure",
			zap.String("path", c.Path()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err))
		return writeError(c, http.StatusBadGateway, err.Error())
	}
}

func schemaParam(c echo.Context) (listing.Schema, error) {
	kind, err := listing.ParseKind(c.Param("kind"))
	if err != nil {
		return listing.Schema{}, echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	schema, _ := listing.Lookup(kind)
	return schema, nil
}

func multipartFile(fh *multipart.FileHeader) media.File {
	return media.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Open:        func() (io.ReadCloser, error) { return fh.Open() },
	}
}

func writeError(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]any{"error": message})
}
