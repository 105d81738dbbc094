// Package modelstore manages the on-disk registry of detection model
// weights: the built-in catalogue, imported custom weights, and the JSON
// metadata sidecar that survives restarts.
package modelstore

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oriys/strix/internal/fault"
)

const (
	metadataFile = "models_metadata.json"
	maxModelSize = 500 << 20 // 500 MiB
)

var allowedExtensions = map[string]bool{
	".pt":   true,
	".pth":  true,
	".onnx": true,
}

// Info describes one registered model, built-in or custom.
type Info struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	FileName    string    `json:"file_name"`
	SizeBytes   int64     `json:"size_bytes"`
	Classes     int       `json:"classes"`
	Builtin     bool      `json:"builtin"`
	Downloaded  bool      `json:"downloaded"`
	DownloadURL string    `json:"download_url,omitempty"`
	ImportedAt  time.Time `json:"imported_at,omitempty"`
}

// builtinCatalogue lists the models the store knows without an import.
// Downloaded is computed from the filesystem at list time.
var builtinCatalogue = []Info{
	{
		ID:          "yolov8n",
		Name:        "YOLOv8 Nano",
		Description: "smallest and fastest, for edge inference",
		FileName:    "yolov8n.pt",
		SizeBytes:   6534387,
		Classes:     80,
		Builtin:     true,
		DownloadURL: "https://github.com/ultralytics/assets/releases/download/v8.2.0/yolov8n.pt",
	},
	{
		ID:          "yolov8s",
		Name:        "YOLOv8 Small",
		Description: "balanced speed and accuracy",
		FileName:    "yolov8s.pt",
		SizeBytes:   22573363,
		Classes:     80,
		Builtin:     true,
		DownloadURL: "https://github.com/ultralytics/assets/releases/download/v8.2.0/yolov8s.pt",
	},
	{
		ID:          "yolov8m",
		Name:        "YOLOv8 Medium",
		Description: "higher accuracy at more compute",
		FileName:    "yolov8m.pt",
		SizeBytes:   52117433,
		Classes:     80,
		Builtin:     true,
		DownloadURL: "https://github.com/ultralytics/assets/releases/download/v8.2.0/yolov8m.pt",
	},
}

// Store is the file-backed model registry. All mutating operations persist
// the metadata sidecar before returning.
type Store struct {
	mu       sync.Mutex
	dir      string
	custom   map[string]Info // id -> metadata for imported models
	selected string
}

// New opens (or initializes) a registry rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	s := &Store{dir: dir, custom: make(map[string]Info)}
	if err := s.loadMetadata(); err != nil {
		return nil, err
	}
	return s, nil
}

type metadata struct {
	Custom   map[string]Info `json:"custom_models"`
	Selected string          `json:"selected"`
}

func (s *Store) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(s.dir, metadataFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read model metadata: %w", err)
	}
	var m metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse model metadata: %w", err)
	}
	if m.Custom != nil {
		s.custom = m.Custom
	}
	s.selected = m.Selected
	return nil
}

func (s *Store) saveMetadataLocked() error {
	m := metadata{Custom: s.custom, Selected: s.selected}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.dir, metadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.dir, metadataFile))
}

// Import validates and copies a weights file into the registry, returning
// its content-addressed ID ("custom_" + first 12 hex of the file md5).
func (s *Store) Import(path, name, description string) (Info, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return Info{}, fault.New(fault.CodeInvalidParam,
			fmt.Sprintf("unsupported model format %q", ext))
	}
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fault.New(fault.CodeMissingData, "model file not found").WithCause(err)
	}
	if st.Size() == 0 {
		return Info{}, fault.New(fault.CodeInvalidParam, "model file is empty")
	}
	if st.Size() > maxModelSize {
		return Info{}, fault.New(fault.CodeInvalidParam,
			fmt.Sprintf("model file exceeds %d bytes", int64(maxModelSize)))
	}

	sum, err := fileMD5(path)
	if err != nil {
		return Info{}, fmt.Errorf("hash model file: %w", err)
	}
	id := "custom_" + sum[:12]

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.custom[id]; ok {
		return existing, nil
	}

	fileName := id + ext
	if err := copyFile(path, filepath.Join(s.dir, fileName)); err != nil {
		return Info{}, fmt.Errorf("copy model file: %w", err)
	}

	info := Info{
		ID:          id,
		Name:        name,
		Description: description,
		FileName:    fileName,
		SizeBytes:   st.Size(),
		Downloaded:  true,
		ImportedAt:  time.Now().UTC(),
	}
	if info.Name == "" {
		info.Name = strings.TrimSuffix(filepath.Base(path), ext)
	}
	s.custom[id] = info
	if err := s.saveMetadataLocked(); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Download fetches a built-in model's weights into the registry. A model
// already on disk is a no-op. The written file must be non-empty and under
// the size cap or it is discarded.
func (s *Store) Download(ctx context.Context, id string) (Info, error) {
	var target Info
	for _, b := range builtinCatalogue {
		if b.ID == id {
			target = b
			break
		}
	}
	if target.ID == "" {
		return Info{}, fault.New(fault.CodeMissingData,
			fmt.Sprintf("unknown built-in model %q", id))
	}

	dst := filepath.Join(s.dir, target.FileName)
	if s.fileExists(target.FileName) {
		target.Downloaded = true
		return target, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.DownloadURL, nil)
	if err != nil {
		return Info{}, fmt.Errorf("build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Info{}, fault.New(fault.CodeNetworkError, "model download failed").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Info{}, fault.New(fault.CodeNetworkError,
			fmt.Sprintf("model download returned HTTP %d", resp.StatusCode))
	}

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return Info{}, fmt.Errorf("create model file: %w", err)
	}
	n, err := io.Copy(out, io.LimitReader(resp.Body, maxModelSize+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n == 0 {
		err = fault.New(fault.CodeInvalidParam, "downloaded model is empty")
	}
	if err == nil && n > maxModelSize {
		err = fault.New(fault.CodeInvalidParam,
			fmt.Sprintf("downloaded model exceeds %d bytes", int64(maxModelSize)))
	}
	if err != nil {
		os.Remove(tmp)
		return Info{}, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return Info{}, fmt.Errorf("finalize model file: %w", err)
	}

	target.Downloaded = true
	target.SizeBytes = n
	return target, nil
}

// List returns the built-in catalogue plus imported models, built-ins
// first, each with its Downloaded flag resolved against the filesystem.
func (s *Store) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Info, 0, len(builtinCatalogue)+len(s.custom))
	for _, b := range builtinCatalogue {
		b.Downloaded = s.fileExists(b.FileName)
		out = append(out, b)
	}
	custom := make([]Info, 0, len(s.custom))
	for _, c := range s.custom {
		c.Downloaded = s.fileExists(c.FileName)
		custom = append(custom, c)
	}
	sort.Slice(custom, func(i, j int) bool { return custom[i].ID < custom[j].ID })
	return append(out, custom...)
}

// Get looks up one model by ID.
func (s *Store) Get(id string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range builtinCatalogue {
		if b.ID == id {
			b.Downloaded = s.fileExists(b.FileName)
			return b, nil
		}
	}
	if c, ok := s.custom[id]; ok {
		c.Downloaded = s.fileExists(c.FileName)
		return c, nil
	}
	return Info{}, fault.New(fault.CodeMissingData, fmt.Sprintf("unknown model %q", id))
}

// Delete removes an imported model and its weights file. Built-ins cannot
// be deleted.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range builtinCatalogue {
		if b.ID == id {
			return fault.New(fault.CodeInvalidParam, "built-in models cannot be deleted")
		}
	}
	info, ok := s.custom[id]
	if !ok {
		return fault.New(fault.CodeMissingData, fmt.Sprintf("unknown model %q", id))
	}
	if err := os.Remove(filepath.Join(s.dir, info.FileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove model file: %w", err)
	}
	delete(s.custom, id)
	if s.selected == id {
		s.selected = ""
	}
	return s.saveMetadataLocked()
}

// Select marks a model as the active detection model. The model must exist
// in the registry; built-ins need not be downloaded yet.
func (s *Store) Select(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = id
	return s.saveMetadataLocked()
}

// Selected returns the active model ID, empty if none chosen.
func (s *Store) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Path returns the absolute weights path for a model ID.
func (s *Store) Path(id string) (string, error) {
	info, err := s.Get(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, info.FileName), nil
}

func (s *Store) fileExists(name string) bool {
	st, err := os.Stat(filepath.Join(s.dir, name))
	return err == nil && st.Size() > 0
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
