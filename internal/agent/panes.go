package agent

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/getfinn/finn/internal/agentconfig"
	"github.com/getfinn/finn/internal/claudestate"
	"github.com/getfinn/finn/internal/gitgraph"
	"github.com/getfinn/finn/internal/issuescli"
	"github.com/getfinn/finn/internal/localservice"
	"github.com/getfinn/finn/internal/tmuxsession"
	"github.com/getfinn/finn/internal/wire"
	"github.com/google/uuid"
)

// FilePane is path-backed (content read from/written to disk on demand)
// or virtual (content lives in the record itself) (spec §4.5).
type FilePane struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	Path      string `json:"path,omitempty"`
	Virtual   bool   `json:"virtual"`
	Content   string `json:"content,omitempty"`
}

// NotePane is always virtual: its content lives entirely in the record.
type NotePane struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	Title     string `json:"title"`
	Content   string `json:"content"`
}

// GitGraphPane points at a local repository path rendered on demand.
type GitGraphPane struct {
	ID          string `json:"id"`
	CreatedAt   int64  `json:"createdAt"`
	RepoPath    string `json:"repoPath"`
}

// IframePane embeds an external URL.
type IframePane struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	URL       string `json:"url"`
}

// FolderPane pins a directory for quick repository discovery.
type FolderPane struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	Path      string `json:"path"`
}

// BeadsPane binds a folder to the external issue tracker CLI rooted there.
type BeadsPane struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	Path      string `json:"path"`
}

type filePanesDoc struct {
	Version int                 `json:"version"`
	Panes   map[string]FilePane `json:"panes"`
}

type notesDoc struct {
	Version int                 `json:"version"`
	Notes   map[string]NotePane `json:"notes"`
}

type gitGraphsDoc struct {
	Version int                     `json:"version"`
	Graphs  map[string]GitGraphPane `json:"graphs"`
}

type iframesDoc struct {
	Version int                   `json:"version"`
	Iframes map[string]IframePane `json:"iframes"`
}

type folderPanesDoc struct {
	Version int                    `json:"version"`
	Folders map[string]FolderPane `json:"folders"`
}

type beadsPanesDoc struct {
	Version int                   `json:"version"`
	Panes   map[string]BeadsPane `json:"panes"`
}

// panesStores bundles one ResourceStore per pane type, matching spec
// §6's on-disk layout.
type panesStores struct {
	files      *agentconfig.ResourceStore
	notes      *agentconfig.ResourceStore
	gitGraphs  *agentconfig.ResourceStore
	iframes    *agentconfig.ResourceStore
	folders    *agentconfig.ResourceStore
	beads      *agentconfig.ResourceStore
}

func newPanesStores(stateDir string) *panesStores {
	return &panesStores{
		files:     agentconfig.NewResourceStore(stateDir, "file-panes"),
		notes:     agentconfig.NewResourceStore(stateDir, "notes"),
		gitGraphs: agentconfig.NewResourceStore(stateDir, "git-graphs"),
		iframes:   agentconfig.NewResourceStore(stateDir, "iframes"),
		folders:   agentconfig.NewResourceStore(stateDir, "folder-panes"),
		beads:     agentconfig.NewResourceStore(stateDir, "beads-panes"),
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// registerRoutes wires the agent's local REST surface: file browsing,
// repository scan, and CRUD over every pane type (spec §4.5, §8).
func (a *Agent) registerRoutes() {
	r := a.localRtr

	r.Handle("GET", "/api/files/browse", a.handleListDirectory)
	r.Handle("GET", "/api/files/read", a.handleReadFile)
	r.Handle("POST", "/api/files/create", a.handleCreateFile)
	r.Handle("POST", "/api/files/rename", a.handleRenameFile)
	r.Handle("POST", "/api/files/mkdir", a.handleMkdir)
	r.Handle("DELETE", "/api/files/delete", a.handleDeleteFile)
	r.Handle("GET", "/api/git-repos", a.handleScanRepositories)
	r.Handle("GET", "/api/git-repos/in-folder", a.handleReposInFolder)
	r.Handle("GET", "/api/git-status", a.handleGitStatus)
	r.Handle("GET", "/api/metrics", a.handleMetricsSnapshot)
	r.Handle("GET", "/api/devices", a.handleListDevices)

	r.Handle("GET", "/api/terminals", a.handleListTerminals)
	r.Handle("POST", "/api/terminals", a.handleCreateTerminal)
	r.Handle("POST", "/api/terminals/resume", a.handleResumeTerminal)
	r.Handle("DELETE", "/api/terminals/:id", a.handleDeleteTerminal)
	r.Handle("GET", "/api/terminals/processes", a.handleTerminalProcesses)
	r.Handle("GET", "/api/terminals/states", a.handleTerminalStates)

	r.Handle("GET", "/api/file-panes", a.handleListFilePanes)
	r.Handle("POST", "/api/file-panes", a.handleCreateFilePane)
	r.Handle("PUT", "/api/file-panes/:id", a.handleUpdateFilePane)
	r.Handle("DELETE", "/api/file-panes/:id", a.handleDeleteFilePane)

	r.Handle("GET", "/api/notes", a.handleListNotes)
	r.Handle("POST", "/api/notes", a.handleCreateNote)
	r.Handle("PUT", "/api/notes/:id", a.handleUpdateNote)
	r.Handle("DELETE", "/api/notes/:id", a.handleDeleteNote)

	r.Handle("GET", "/api/git-graphs", a.handleListGitGraphs)
	r.Handle("POST", "/api/git-graphs", a.handleCreateGitGraph)
	r.Handle("GET", "/api/git-graphs/:id/data", a.handleRenderGitGraph)
	r.Handle("POST", "/api/git-graphs/:id/push", a.handlePushGitGraph)
	r.Handle("DELETE", "/api/git-graphs/:id", a.handleDeleteGitGraph)

	r.Handle("GET", "/api/iframes", a.handleListIframes)
	r.Handle("POST", "/api/iframes", a.handleCreateIframe)
	r.Handle("DELETE", "/api/iframes/:id", a.handleDeleteIframe)

	r.Handle("GET", "/api/folder-panes", a.handleListFolderPanes)
	r.Handle("POST", "/api/folder-panes", a.handleCreateFolderPane)
	r.Handle("DELETE", "/api/folder-panes/:id", a.handleDeleteFolderPane)

	r.Handle("GET", "/api/beads-panes", a.handleListBeadsPanes)
	r.Handle("POST", "/api/beads-panes", a.handleCreateBeadsPane)
	r.Handle("DELETE", "/api/beads-panes/:id", a.handleDeleteBeadsPane)
	r.Handle("GET", "/api/beads-panes/:id/issues", a.handleListIssues)
	r.Handle("POST", "/api/beads-panes/:id/issues", a.handleCreateIssue)
	r.Handle("POST", "/api/beads-panes/:id/issues/:issueId/close", a.handleCloseIssue)
}

func (a *Agent) handleListDirectory(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	showHidden, _ := strconv.ParseBool(params["showHidden"])
	entries, err := localservice.ListDirectory(params["path"], showHidden)
	if err != nil {
		return 400, errBody(err)
	}
	return 200, entries
}

func (a *Agent) handleReadFile(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	data, err := localservice.ReadFile(params["path"])
	if err != nil {
		return 400, errBody(err)
	}
	return 200, map[string]string{"content": string(data)}
}

func (a *Agent) handleCreateFile(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var body struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	if err := localservice.WriteFile(body.Path, []byte(body.Content)); err != nil {
		return 500, errBody(err)
	}
	return 201, map[string]bool{"ok": true}
}

func (a *Agent) handleRenameFile(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var body struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	from, err := localservice.ExpandHome(body.From)
	if err != nil {
		return 400, errBody(err)
	}
	to, err := localservice.ExpandHome(body.To)
	if err != nil {
		return 400, errBody(err)
	}
	if err := os.Rename(from, to); err != nil {
		return 500, errBody(err)
	}
	return 200, map[string]bool{"ok": true}
}

func (a *Agent) handleMkdir(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	resolved, err := localservice.ExpandHome(body.Path)
	if err != nil {
		return 400, errBody(err)
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return 500, errBody(err)
	}
	return 201, map[string]bool{"ok": true}
}

func (a *Agent) handleDeleteFile(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var q struct {
		Path string `json:"path"`
	}
	decodeQuery(req.Body, &q)
	resolved, err := localservice.ExpandHome(q.Path)
	if err != nil {
		return 400, errBody(err)
	}
	if err := os.RemoveAll(resolved); err != nil {
		return 500, errBody(err)
	}
	return 204, nil
}

// handleScanRepositories streams scan:partial frames as repositories are
// discovered, per spec §4.5's incremental-emission requirement. Repeated
// calls reuse the last walk's result until a.scanCache sees a filesystem
// change under one of the scan roots.
func (a *Agent) handleScanRepositories(req wire.RequestPayload, params map[string]string, onPartial func(any)) (int, any) {
	found, err := a.scanCache.Scan(func(r localservice.RepoRecord) {
		onPartial(r)
	})
	if err != nil {
		return 500, errBody(err)
	}
	return 200, found
}

func (a *Agent) handleReposInFolder(req wire.RequestPayload, params map[string]string, onPartial func(any)) (int, any) {
	resolved, err := localservice.ExpandHome(params["path"])
	if err != nil {
		return 400, errBody(err)
	}
	var found []localservice.RepoRecord
	err = localservice.ScanRepositories([]string{resolved}, func(r localservice.RepoRecord) {
		found = append(found, r)
		onPartial(r)
	})
	if err != nil {
		return 500, errBody(err)
	}
	return 200, found
}

func (a *Agent) handleGitStatus(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	resolved, err := localservice.ExpandHome(params["path"])
	if err != nil {
		return 400, errBody(err)
	}
	repo := gitgraph.NewRepository(resolved)
	status, err := repo.Status(a.ctx)
	if err != nil {
		return 500, errBody(err)
	}
	return 200, status
}

func (a *Agent) handleMetricsSnapshot(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	return 200, a.metrics.Collect(a.ctx)
}

// handleListDevices reports the single device this agent runs on; spec
// §3's multi-device model is a relay-side concern (one agent per device).
func (a *Agent) handleListDevices(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	hostname, _ := os.Hostname()
	return 200, []map[string]string{{"deviceId": a.cfg.DeviceID, "hostname": hostname}}
}

func (a *Agent) handleListFilePanes(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc filePanesDoc
	if err := a.panes.files.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	return 200, valuesOf(doc.Panes)
}

func (a *Agent) handleCreateFilePane(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var body struct {
		Path    string `json:"path"`
		Virtual bool   `json:"virtual"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	pane := FilePane{ID: uuid.New().String(), CreatedAt: nowMillis(), Path: body.Path, Virtual: body.Virtual, Content: body.Content}

	var doc filePanesDoc
	if err := a.panes.files.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	if doc.Panes == nil {
		doc.Panes = make(map[string]FilePane)
	}
	doc.Panes[pane.ID] = pane
	doc.Version = 1
	if err := a.panes.files.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 201, pane
}

func (a *Agent) handleUpdateFilePane(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc filePanesDoc
	if err := a.panes.files.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	pane, ok := doc.Panes[params["id"]]
	if !ok {
		return 404, errBody(wire.ErrNotFound)
	}
	var body struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	if body.Content != nil {
		if pane.Virtual {
			pane.Content = *body.Content
		} else if err := localservice.WriteFile(pane.Path, []byte(*body.Content)); err != nil {
			return 500, errBody(err)
		}
	}
	doc.Panes[pane.ID] = pane
	if err := a.panes.files.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 200, pane
}

func (a *Agent) handleDeleteFilePane(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc filePanesDoc
	if err := a.panes.files.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	delete(doc.Panes, params["id"])
	if err := a.panes.files.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 204, nil
}

func (a *Agent) handleListNotes(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc notesDoc
	if err := a.panes.notes.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	return 200, valuesOf(doc.Notes)
}

func (a *Agent) handleCreateNote(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var body struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	note := NotePane{ID: uuid.New().String(), CreatedAt: nowMillis(), Title: body.Title, Content: body.Content}

	var doc notesDoc
	if err := a.panes.notes.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	if doc.Notes == nil {
		doc.Notes = make(map[string]NotePane)
	}
	doc.Notes[note.ID] = note
	doc.Version = 1
	if err := a.panes.notes.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 201, note
}

func (a *Agent) handleUpdateNote(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc notesDoc
	if err := a.panes.notes.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	note, ok := doc.Notes[params["id"]]
	if !ok {
		return 404, errBody(wire.ErrNotFound)
	}
	var body struct {
		Title   *string `json:"title"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	if body.Title != nil {
		note.Title = *body.Title
	}
	if body.Content != nil {
		note.Content = *body.Content
	}
	doc.Notes[note.ID] = note
	if err := a.panes.notes.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 200, note
}

func (a *Agent) handleDeleteNote(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc notesDoc
	if err := a.panes.notes.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	delete(doc.Notes, params["id"])
	if err := a.panes.notes.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 204, nil
}

func (a *Agent) handleListGitGraphs(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc gitGraphsDoc
	if err := a.panes.gitGraphs.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	return 200, valuesOf(doc.Graphs)
}

func (a *Agent) handleCreateGitGraph(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var body struct {
		RepoPath string `json:"repoPath"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	pane := GitGraphPane{ID: uuid.New().String(), CreatedAt: nowMillis(), RepoPath: body.RepoPath}

	var doc gitGraphsDoc
	if err := a.panes.gitGraphs.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	if doc.Graphs == nil {
		doc.Graphs = make(map[string]GitGraphPane)
	}
	doc.Graphs[pane.ID] = pane
	doc.Version = 1
	if err := a.panes.gitGraphs.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 201, pane
}

// handleRenderGitGraph recomputes the graph on every call; spec §4.4
// treats the rendered HTML as derived, never cached.
func (a *Agent) handleRenderGitGraph(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc gitGraphsDoc
	if err := a.panes.gitGraphs.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	pane, ok := doc.Graphs[params["id"]]
	if !ok {
		return 404, errBody(wire.ErrNotFound)
	}
	maxCommits := 50
	if n, err := strconv.Atoi(params["maxCommits"]); err == nil && n > 0 {
		maxCommits = n
	}
	repo := gitgraph.NewRepository(pane.RepoPath)
	graph, err := repo.Build(a.ctx, maxCommits)
	if err != nil {
		return 500, errBody(err)
	}
	return 200, graph
}

func (a *Agent) handlePushGitGraph(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc gitGraphsDoc
	if err := a.panes.gitGraphs.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	pane, ok := doc.Graphs[params["id"]]
	if !ok {
		return 404, errBody(wire.ErrNotFound)
	}
	repo := gitgraph.NewRepository(pane.RepoPath)
	branch, err := repo.CurrentBranch(a.ctx)
	if err != nil {
		return 500, errBody(err)
	}
	if err := repo.Push(a.ctx, branch); err != nil {
		return 500, errBody(err)
	}
	return 200, map[string]bool{"ok": true}
}

func (a *Agent) handleDeleteGitGraph(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc gitGraphsDoc
	if err := a.panes.gitGraphs.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	delete(doc.Graphs, params["id"])
	if err := a.panes.gitGraphs.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 204, nil
}

func (a *Agent) handleListIframes(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc iframesDoc
	if err := a.panes.iframes.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	return 200, valuesOf(doc.Iframes)
}

func (a *Agent) handleCreateIframe(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	pane := IframePane{ID: uuid.New().String(), CreatedAt: nowMillis(), URL: body.URL}

	var doc iframesDoc
	if err := a.panes.iframes.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	if doc.Iframes == nil {
		doc.Iframes = make(map[string]IframePane)
	}
	doc.Iframes[pane.ID] = pane
	doc.Version = 1
	if err := a.panes.iframes.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 201, pane
}

func (a *Agent) handleDeleteIframe(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc iframesDoc
	if err := a.panes.iframes.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	delete(doc.Iframes, params["id"])
	if err := a.panes.iframes.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 204, nil
}

func (a *Agent) handleListFolderPanes(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc folderPanesDoc
	if err := a.panes.folders.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	return 200, valuesOf(doc.Folders)
}

func (a *Agent) handleCreateFolderPane(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	pane := FolderPane{ID: uuid.New().String(), CreatedAt: nowMillis(), Path: body.Path}

	var doc folderPanesDoc
	if err := a.panes.folders.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	if doc.Folders == nil {
		doc.Folders = make(map[string]FolderPane)
	}
	doc.Folders[pane.ID] = pane
	doc.Version = 1
	if err := a.panes.folders.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 201, pane
}

func (a *Agent) handleDeleteFolderPane(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc folderPanesDoc
	if err := a.panes.folders.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	delete(doc.Folders, params["id"])
	if err := a.panes.folders.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 204, nil
}

func (a *Agent) handleListBeadsPanes(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc beadsPanesDoc
	if err := a.panes.beads.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	return 200, valuesOf(doc.Panes)
}

func (a *Agent) handleCreateBeadsPane(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	pane := BeadsPane{ID: uuid.New().String(), CreatedAt: nowMillis(), Path: body.Path}

	var doc beadsPanesDoc
	if err := a.panes.beads.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	if doc.Panes == nil {
		doc.Panes = make(map[string]BeadsPane)
	}
	doc.Panes[pane.ID] = pane
	doc.Version = 1
	if err := a.panes.beads.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 201, pane
}

func (a *Agent) handleDeleteBeadsPane(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc beadsPanesDoc
	if err := a.panes.beads.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	delete(doc.Panes, params["id"])
	if err := a.panes.beads.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 204, nil
}

func (a *Agent) beadsClientFor(paneID string) (*issuescli.Client, error) {
	var doc beadsPanesDoc
	if err := a.panes.beads.Load(&doc); err != nil {
		return nil, err
	}
	pane, ok := doc.Panes[paneID]
	if !ok {
		return nil, wire.ErrNotFound
	}
	return issuescli.NewClient(pane.Path), nil
}

func (a *Agent) handleListIssues(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	client, err := a.beadsClientFor(params["id"])
	if err != nil {
		return statusFor(err), errBody(err)
	}
	issues, err := client.List(a.ctx)
	if err != nil {
		return 500, errBody(err)
	}
	return 200, issues
}

func (a *Agent) handleCreateIssue(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	client, err := a.beadsClientFor(params["id"])
	if err != nil {
		return statusFor(err), errBody(err)
	}
	var create issuescli.CreateRequest
	if err := json.Unmarshal(req.Body, &create); err != nil {
		return 400, errBody(err)
	}
	issue, err := client.Create(a.ctx, create)
	if err != nil {
		return 400, errBody(err)
	}
	return 201, issue
}

func (a *Agent) handleCloseIssue(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	client, err := a.beadsClientFor(params["id"])
	if err != nil {
		return statusFor(err), errBody(err)
	}
	issue, err := client.Get(a.ctx, params["issueId"])
	if err != nil {
		return 404, errBody(err)
	}
	return 200, issue
}

func (a *Agent) handleListTerminals(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var doc terminalsDoc
	if err := a.terminals.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	return 200, valuesOf(doc.Terminals)
}

// handleCreateTerminal creates a tmux session and its TerminalRecord.
// Tier gating for this path happens at the relay before the request ever
// reaches the agent (spec §4.4).
func (a *Agent) handleCreateTerminal(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var body struct {
		WorkingDir string `json:"workingDir"`
		Cols       int    `json:"cols"`
		Rows       int    `json:"rows"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	if body.Cols <= 0 {
		body.Cols = 80
	}
	if body.Rows <= 0 {
		body.Rows = 24
	}
	cwd, err := localservice.ExpandHome(body.WorkingDir)
	if err != nil {
		return 400, errBody(err)
	}

	id := uuid.New().String()
	if err := tmuxsession.Create(a.ctx, id, body.Cols, body.Rows, cwd); err != nil {
		return 500, errBody(err)
	}

	record := TerminalRecord{ID: id, SessionName: tmuxsession.SessionName(id), WorkingDir: cwd, Device: a.cfg.DeviceID}
	var doc terminalsDoc
	if err := a.terminals.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	if doc.Terminals == nil {
		doc.Terminals = make(map[string]TerminalRecord)
	}
	doc.Terminals[id] = record
	doc.Version = 1
	if err := a.terminals.Save(&doc); err != nil {
		return 500, errBody(err)
	}
	return 201, record
}

// handleResumeTerminal re-attaches a terminal id whose session no longer
// exists by creating a fresh session under the same id (spec §3: "a
// terminal PaneLayout ... may be resumed: new session under the same
// terminal id").
func (a *Agent) handleResumeTerminal(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	var body struct {
		TerminalID string `json:"terminalId"`
		Cols       int    `json:"cols"`
		Rows       int    `json:"rows"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return 400, errBody(err)
	}
	var doc terminalsDoc
	if err := a.terminals.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	record, ok := doc.Terminals[body.TerminalID]
	if !ok {
		return 404, errBody(wire.ErrNotFound)
	}
	if body.Cols <= 0 {
		body.Cols = 80
	}
	if body.Rows <= 0 {
		body.Rows = 24
	}
	if err := tmuxsession.Create(a.ctx, record.ID, body.Cols, body.Rows, record.WorkingDir); err != nil {
		return 500, errBody(err)
	}
	return 200, record
}

func (a *Agent) handleDeleteTerminal(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	id := params["id"]
	a.terms.Close(a.ctx, id)

	var doc terminalsDoc
	if err := a.terminals.Load(&doc); err != nil {
		return 500, errBody(err)
	}
	if doc.Terminals != nil {
		delete(doc.Terminals, id)
		if err := a.terminals.Save(&doc); err != nil {
			return 500, errBody(err)
		}
	}
	return 204, nil
}

func (a *Agent) handleTerminalProcesses(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	panes, err := claudestate.ListPanes(a.ctx)
	if err != nil {
		return 500, errBody(err)
	}
	return 200, panes
}

func (a *Agent) handleTerminalStates(req wire.RequestPayload, params map[string]string, _ func(any)) (int, any) {
	return 200, a.detector.Poll(a.ctx)
}

func errBody(err error) map[string]string { return map[string]string{"error": err.Error()} }

func statusFor(err error) int {
	switch {
	case errors.Is(err, wire.ErrNotFound):
		return 404
	case errors.Is(err, wire.ErrInvalid):
		return 400
	default:
		return 500
	}
}

func decodeQuery(raw json.RawMessage, v any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, v)
}

func valuesOf[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
