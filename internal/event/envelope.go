// Package event defines the wire envelope and payload types received from
// the editor agent, plus the normalization rules shared by every consumer.
package event

import (
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Domain event types.
const (
	TypeAssetsImported  = "assets_imported"
	TypeAssetsDeleted   = "assets_deleted"
	TypeAssetsMoved     = "assets_moved"
	TypeSceneSaved      = "scene_saved"
	TypeProjectChanged  = "project_changed"
	TypeCompileStarted  = "compile_started"
	TypeCompileFinished = "compile_finished"
	TypeWillSaveAssets  = "will_save_assets"
	TypeHello           = "hello"
	TypeHeartbeat       = "hb"
	TypeAck             = "ack"
	TypeManifestBegin   = "manifest_begin"
	TypeManifestBatch   = "manifest_batch"
	TypeManifestEnd     = "manifest_end"
)

// SourceUnity is the only source the core applies; other sources are logged
// and dropped.
const SourceUnity = "unity"

// acked lists the types the transport layer acknowledges. hb and ack are
// never acknowledged.
var acked = map[string]bool{
	TypeAssetsImported:  true,
	TypeAssetsDeleted:   true,
	TypeAssetsMoved:     true,
	TypeSceneSaved:      true,
	TypeProjectChanged:  true,
	TypeCompileStarted:  true,
	TypeCompileFinished: true,
	TypeWillSaveAssets:  true,
	TypeHello:           true,
}

// Acknowledged reports whether the transport should ACK an event of this type.
func Acknowledged(typ string) bool {
	return acked[typ]
}

// Envelope is the wire-level event envelope, bit-exact on the transport.
type Envelope struct {
	V       int             `json:"v"`
	Source  string          `json:"source"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	ID      string          `json:"id"`
	Body    json.RawMessage `json:"body"`
	Session string          `json:"session,omitempty"`
}

// Validate checks the envelope for the fields the core requires.
func (e Envelope) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.V, validation.Min(1)),
		validation.Field(&e.Source, validation.Required, validation.In("unity", "electron")),
		validation.Field(&e.Type, validation.Required),
		validation.Field(&e.TS, validation.Required, validation.Min(int64(1))),
	)
}

// AssetItem is one entry of an assets_* or manifest payload. GUID and hash
// arrive under several legacy field names; UnmarshalJSON coerces them.
type AssetItem struct {
	GUID     string
	Path     string
	From     string
	Kind     string
	Mtime    *int64
	Size     *int64
	Hash     string
	IsFolder bool
	Deps     []string
}

type assetItemWire struct {
	GUID      string   `json:"guid"`
	AssetGUID string   `json:"assetGuid"`
	ID        string   `json:"id"`
	Path      string   `json:"path"`
	From      string   `json:"from"`
	Kind      string   `json:"kind"`
	Mtime     *int64   `json:"mtime"`
	Size      *int64   `json:"size"`
	Hash      string   `json:"hash"`
	SHA256    string   `json:"sha256"`
	IsFolder  bool     `json:"isFolder"`
	Deps      []string `json:"deps"`
}

// UnmarshalJSON decodes an item, coercing guid from guid/assetGuid/id and
// hash from hash/sha256.
func (a *AssetItem) UnmarshalJSON(data []byte) error {
	var w assetItemWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	guid := w.GUID
	if guid == "" {
		guid = w.AssetGUID
	}
	if guid == "" {
		guid = w.ID
	}

	hash := w.Hash
	if hash == "" {
		hash = w.SHA256
	}

	*a = AssetItem{
		GUID:     guid,
		Path:     w.Path,
		From:     w.From,
		Kind:     w.Kind,
		Mtime:    w.Mtime,
		Size:     w.Size,
		Hash:     hash,
		IsFolder: w.IsFolder,
		Deps:     w.Deps,
	}
	return nil
}

// ItemsBody is the payload of assets_imported, assets_moved, assets_deleted
// and manifest_batch events.
type ItemsBody struct {
	Items []AssetItem `json:"items"`
}

// SceneSavedBody is the payload of scene_saved.
type SceneSavedBody struct {
	GUID string `json:"guid"`
	Path string `json:"path"`
}

// HelloBody carries the editor's identity hints used for root resolution.
type HelloBody struct {
	ProductGUID    string `json:"productGUID"`
	CloudProjectID string `json:"cloudProjectId"`
	UnityVersion   string `json:"unityVersion"`
	DataPath       string `json:"dataPath,omitempty"`
}

// ManifestMarkerBody is the payload of manifest_begin and manifest_end.
type ManifestMarkerBody struct {
	Total int `json:"total"`
}

// DecodeBody unmarshals the envelope body into out.
func (e Envelope) DecodeBody(out any) error {
	if len(e.Body) == 0 {
		return fmt.Errorf("event %s has no body", e.Type)
	}
	if err := json.Unmarshal(e.Body, out); err != nil {
		return fmt.Errorf("decode %s body: %w", e.Type, err)
	}
	return nil
}

// NormalizeRelPath converts a project-relative path to the canonical form
// stored in catalog rows and point payloads: forward slashes, no leading ./.
func NormalizeRelPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}

// NormalizeGUID lowercases a guid and strips surrounding braces.
func NormalizeGUID(g string) string {
	g = strings.TrimPrefix(g, "{")
	g = strings.TrimSuffix(g, "}")
	return strings.ToLower(g)
}

// IsTextual reports whether an asset is chunked and embedded.
func IsTextual(kind, path string) bool {
	return kind == "MonoScript" || kind == "TextAsset" || strings.HasSuffix(path, ".cs")
}

// IsScenePath reports whether a path names a scene document.
func IsScenePath(path string) bool {
	return strings.HasSuffix(path, ".unity")
}
