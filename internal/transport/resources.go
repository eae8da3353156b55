package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// AuthAPI wraps the /auth endpoints. Its CheckWrite satisfies the gateway's
// WriteChecker, closing the loop between gateway and transport.
type AuthAPI struct {
	c *Client
}

func (c *Client) Auth() AuthAPI { return AuthAPI{c: c} }

// Login asks the server to accept the credentials attached by the session.
func (a AuthAPI) Login(ctx context.Context) (bool, error) {
	return a.c.GetBool(ctx, "/auth/login", nil)
}

// Verify checks whether the attached credentials are still valid.
func (a AuthAPI) Verify(ctx context.Context) (bool, error) {
	return a.c.GetBool(ctx, "/auth/verify", nil)
}

// CheckWrite asks whether the session may write the given resource.
func (a AuthAPI) CheckWrite(ctx context.Context, resourceID string) (bool, error) {
	return a.c.GetBool(ctx, a.c.Path("auth", "write", resourceID), nil)
}

// ProjectsAPI wraps the /projects endpoints.
type ProjectsAPI struct {
	c *Client
}

func (c *Client) Projects() ProjectsAPI { return ProjectsAPI{c: c} }

func (p ProjectsAPI) List(ctx context.Context) ([]json.RawMessage, error) {
	var docs []json.RawMessage
	if err := p.c.GetJSON(ctx, "/projects", nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Get fetches one project document. The id may carry a point-in-time suffix
// in the "id:timestamp" form, used by backup preview; the timestamp becomes
// a query parameter.
func (p ProjectsAPI) Get(ctx context.Context, id string) ([]byte, error) {
	var query url.Values
	if base, timestamp, ok := strings.Cut(id, ":"); ok {
		id = base
		query = url.Values{"timestamp": {timestamp}}
	}
	return p.c.Get(ctx, p.c.Path("projects", id), query)
}

// Create allocates a fresh server-assigned project id owned by the current
// user. The sync fork branch uses this before uploading the copy.
func (p ProjectsAPI) Create(ctx context.Context) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := p.c.PostJSON(ctx, "/projects", struct{}{}, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("POST /projects: server returned no id")
	}
	return created.ID, nil
}

// Save uploads a full serialized project payload to an existing id.
func (p ProjectsAPI) Save(ctx context.Context, id string, payload []byte) error {
	_, err := p.c.Post(ctx, p.c.Path("projects", id), nil, payload, "application/json")
	return err
}

// Patch applies a partial document to the stored project.
func (p ProjectsAPI) Patch(ctx context.Context, id string, doc any) error {
	return p.c.PatchJSON(ctx, p.c.Path("projects", id), doc)
}

func (p ProjectsAPI) Delete(ctx context.Context, id string) error {
	return p.c.Delete(ctx, p.c.Path("projects", id))
}

// SlidesAPI wraps the /slides endpoints. Tile reads go through the image
// server, which resolves render URLs from the properties fetched here.
type SlidesAPI struct {
	c *Client
}

func (c *Client) Slides() SlidesAPI { return SlidesAPI{c: c} }

func (s SlidesAPI) List(ctx context.Context) ([]json.RawMessage, error) {
	var docs []json.RawMessage
	if err := s.c.GetJSON(ctx, "/slides/", nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Properties fetches the flat key/value document describing one slide.
func (s SlidesAPI) Properties(ctx context.Context, id string) (map[string]string, error) {
	var props map[string]string
	if err := s.c.GetJSON(ctx, s.c.Path("slides", id), nil, &props); err != nil {
		return nil, err
	}
	return props, nil
}

func (s SlidesAPI) Patch(ctx context.Context, id string, doc any) error {
	return s.c.PatchJSON(ctx, s.c.Path("slides", id), doc)
}

func (s SlidesAPI) Delete(ctx context.Context, id string) error {
	return s.c.Delete(ctx, s.c.Path("slides", id))
}

// UploadChunk sends one multipart chunk of a slide file.
func (s SlidesAPI) UploadChunk(ctx context.Context, filename string, fileSize int64, chunk int, chunkSize int64, content []byte) error {
	query := url.Values{
		"filename":  {filename},
		"fileSize":  {fmt.Sprint(fileSize)},
		"chunk":     {fmt.Sprint(chunk)},
		"chunkSize": {fmt.Sprint(chunkSize)},
	}
	_, err := s.c.PostMultipart(ctx, "/slides/", query, "file", filename, content)
	return err
}

// ResourceAPI is the uniform CRUD surface shared by workspaces, subjects,
// organizations, and users. The client core never interprets these
// documents; it hands them to the (external) management screens.
type ResourceAPI struct {
	c    *Client
	base string
}

func (c *Client) Workspaces() ResourceAPI    { return ResourceAPI{c: c, base: "workspaces"} }
func (c *Client) Subjects() ResourceAPI      { return ResourceAPI{c: c, base: "subjects"} }
func (c *Client) Organizations() ResourceAPI { return ResourceAPI{c: c, base: "organizations"} }
func (c *Client) Users() ResourceAPI         { return ResourceAPI{c: c, base: "users"} }

func (r ResourceAPI) List(ctx context.Context) ([]json.RawMessage, error) {
	var docs []json.RawMessage
	if err := r.c.GetJSON(ctx, r.c.Path(r.base), nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (r ResourceAPI) Get(ctx context.Context, id string) (json.RawMessage, error) {
	return r.c.Get(ctx, r.c.Path(r.base, id), nil)
}

func (r ResourceAPI) Create(ctx context.Context, doc any) error {
	return r.c.PostJSON(ctx, r.c.Path(r.base), doc, nil)
}

func (r ResourceAPI) Update(ctx context.Context, id string, doc any) error {
	return r.c.PatchJSON(ctx, r.c.Path(r.base, id), doc)
}

func (r ResourceAPI) Delete(ctx context.Context, id string) error {
	return r.c.Delete(ctx, r.c.Path(r.base, id))
}

// Backup describes one server-side backup snapshot of a project.
type Backup struct {
	Filename  string `json:"filename"`
	Timestamp int64  `json:"timestamp"`
}

// BackupsAPI wraps the /backups endpoints.
type BackupsAPI struct {
	c *Client
}

func (c *Client) Backups() BackupsAPI { return BackupsAPI{c: c} }

func (b BackupsAPI) List(ctx context.Context) ([]Backup, error) {
	var backups []Backup
	if err := b.c.GetJSON(ctx, "/backups", nil, &backups); err != nil {
		return nil, err
	}
	return backups, nil
}

// Restore asks the server to restore a backup identified by filename and
// timestamp.
func (b BackupsAPI) Restore(ctx context.Context, filename string, timestamp int64) error {
	form := url.Values{
		"filename":  {filename},
		"timestamp": {fmt.Sprint(timestamp)},
	}
	_, err := b.c.PostForm(ctx, "/backups", form)
	return err
}
