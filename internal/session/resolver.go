// Package session maps transport sessions to project roots and buffers
// events that arrive before resolution completes.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"movesia/internal/contextutil"
	"movesia/internal/event"
)

// ErrUnresolved reports that no project root is known for a session yet.
// The event is buffered, not failed.
var ErrUnresolved = errors.New("session root unresolved")

// Sink receives resolved events in arrival order.
type Sink func(ctx context.Context, env event.Envelope, root string) error

// Resolver maps session identifiers to project roots. Events received before
// resolution are buffered per session in arrival order and drained through
// the sink once the root is known.
type Resolver struct {
	ExtraRoots         []string
	RecentProjectsPath string

	// OnResolved runs once per successful resolution, before the buffer drains.
	OnResolved func(ctx context.Context, session, root string)

	sink Sink

	mu      sync.Mutex
	roots   map[string]string
	presets map[string]string
	buffers map[string][]event.Envelope
}

// NewResolver creates a resolver delivering resolved events to sink.
func NewResolver(sink Sink) *Resolver {
	return &Resolver{
		sink:    sink,
		roots:   make(map[string]string),
		presets: make(map[string]string),
		buffers: make(map[string][]event.Envelope),
	}
}

// SetPresetRoot records a root resolved by an outer transport layer; it is
// consulted after productGUID and dataPath matching.
func (r *Resolver) SetPresetRoot(session, root string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[session] = root
}

// Root returns the resolved root for a session, if any.
func (r *Resolver) Root(session string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	root, ok := r.roots[session]
	return root, ok
}

// Dispatch routes one envelope. A hello triggers resolution; any other event
// flows to the sink when the session is resolved and is buffered otherwise.
func (r *Resolver) Dispatch(ctx context.Context, env event.Envelope) error {
	logger := contextutil.LoggerFromContext(ctx)

	if env.Type == event.TypeHello {
		return r.handleHello(ctx, env)
	}

	r.mu.Lock()
	root, ok := r.roots[env.Session]
	if !ok {
		r.buffers[env.Session] = append(r.buffers[env.Session], env)
		r.mu.Unlock()
		logger.DebugContext(ctx, "buffered event for unresolved session",
			"session", env.Session, "type", env.Type)
		return nil
	}
	r.mu.Unlock()

	return r.sink(ctx, env, root)
}

func (r *Resolver) handleHello(ctx context.Context, env event.Envelope) error {
	logger := contextutil.LoggerFromContext(ctx)

	var hello event.HelloBody
	if err := env.DecodeBody(&hello); err != nil {
		return err
	}

	root, err := r.resolve(hello, env.Session)
	if err != nil {
		r.mu.Lock()
		r.buffers[env.Session] = append(r.buffers[env.Session], env)
		r.mu.Unlock()
		logger.WarnContext(ctx, "project root resolution failed; hello buffered",
			"session", env.Session, "error", err)
		return fmt.Errorf("%w: %v", ErrUnresolved, err)
	}

	r.mu.Lock()
	r.roots[env.Session] = root
	buffered := r.buffers[env.Session]
	delete(r.buffers, env.Session)
	r.mu.Unlock()

	logger.InfoContext(ctx, "session resolved", "session", env.Session, "root", root)

	if r.OnResolved != nil {
		r.OnResolved(ctx, env.Session, root)
	}

	// Drain in arrival order; a failing event does not halt the drain.
	for _, pending := range buffered {
		if pending.Type == event.TypeHello {
			continue
		}
		if err := r.sink(ctx, pending, root); err != nil {
			logger.ErrorContext(ctx, "buffered event failed",
				"session", env.Session, "type", pending.Type, "error", err)
		}
	}
	return nil
}

// resolve finds the project root for a hello, stopping at the first hit:
// productGUID match over candidate roots, dataPath parent, preset root,
// then major editor version as a tiebreaker.
func (r *Resolver) resolve(hello event.HelloBody, session string) (string, error) {
	candidates := r.candidateRoots()

	if hello.ProductGUID != "" {
		want := event.NormalizeGUID(hello.ProductGUID)
		for _, root := range candidates {
			if g, err := readProductGUID(root); err == nil && event.NormalizeGUID(g) == want {
				return root, nil
			}
		}
	}

	if hello.DataPath != "" {
		clean := filepath.Clean(hello.DataPath)
		if filepath.Base(clean) == "Assets" {
			if info, err := os.Stat(clean); err == nil && info.IsDir() {
				return filepath.Dir(clean), nil
			}
		}
	}

	r.mu.Lock()
	preset, ok := r.presets[session]
	r.mu.Unlock()
	if ok {
		return preset, nil
	}

	if major := majorVersion(hello.UnityVersion); major != "" {
		for _, root := range candidates {
			if v, err := readEditorVersion(root); err == nil && majorVersion(v) == major {
				return root, nil
			}
		}
	}

	return "", fmt.Errorf("no candidate root matched session %s", session)
}

// candidateRoots merges user-specified extra roots with the editor's
// recent-project list, dropping directories that no longer exist.
func (r *Resolver) candidateRoots() []string {
	seen := make(map[string]struct{})
	var roots []string

	add := func(root string) {
		if root == "" {
			return
		}
		if _, dup := seen[root]; dup {
			return
		}
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			return
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}

	for _, root := range r.ExtraRoots {
		add(root)
	}
	for _, root := range readRecentProjects(r.RecentProjectsPath) {
		add(root)
	}
	return roots
}

// readRecentProjects parses the installer-maintained recent-project list.
// Both a bare JSON array of paths and the hub's {"data": {path: ...}} shape
// are accepted.
func readRecentProjects(path string) []string {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var hub struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &hub); err == nil {
		for p := range hub.Data {
			list = append(list, p)
		}
	}
	return list
}

// readProductGUID scans ProjectSettings/ProjectSettings.asset for the
// productGUID line. The file is editor-flavored YAML with custom tags, so a
// line scan is the robust way to get at the one field needed.
func readProductGUID(root string) (string, error) {
	return scanSettingsValue(filepath.Join(root, "ProjectSettings", "ProjectSettings.asset"), "productGUID:")
}

// readEditorVersion reads m_EditorVersion from ProjectSettings/ProjectVersion.txt.
func readEditorVersion(root string) (string, error) {
	return scanSettingsValue(filepath.Join(root, "ProjectSettings", "ProjectVersion.txt"), "m_EditorVersion:")
}

func scanSettingsValue(path, prefix string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%s not found in %s", prefix, path)
}

// majorVersion returns the leading component of an editor version string,
// e.g. "2022" from "2022.3.1f1".
func majorVersion(v string) string {
	if v == "" {
		return ""
	}
	if i := strings.Index(v, "."); i > 0 {
		return v[:i]
	}
	return v
}
