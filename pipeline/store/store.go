// Package store implements the on-disk result and checkpoint store for a
// pipeline execution: directory layout, atomic structural remapping against
// the previous run's checkpoint graph, and per-handle store/retrieve.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gml4tdm/checkpointed-go/pipeline"
	"github.com/gml4tdm/checkpointed-go/pipeline/format"
)

// Registry is an optional journal hook a ResultStore reports remap and
// store events to, e.g. pipeline/registry's run registry. It is additive:
// a nil Registry does not change the on-disk contract, except that
// recoverStrandedTemps can use a confirmed pending entry to complete an
// in-flight rename instead of discarding it.
type Registry interface {
	// RecordRemapStart journals mapping as pipelineName's in-flight remap,
	// before any rename happens.
	RecordRemapStart(pipelineName string, mapping map[pipeline.StepHandle]pipeline.StepHandle) error
	// RecordRemapComplete clears pipelineName's in-flight remap journal
	// entry once both rename phases have finished.
	RecordRemapComplete(pipelineName string) error
	// PendingRemap returns the mapping last journaled via
	// RecordRemapStart and not yet cleared by RecordRemapComplete.
	PendingRemap(pipelineName string) (mapping map[pipeline.StepHandle]pipeline.StepHandle, ok bool, err error)
	RecordStore(pipelineName string, handle pipeline.StepHandle)
}

// ResultStore persists step results and metadata for one pipeline run,
// rooted at <checkpointRoot>/<pipelineName>/.
type ResultStore struct {
	checkpointRoot string
	outputRoot     string // empty for a sub-store: outputs cannot be published
	pipelineName   string

	metadataDir string
	dataDir     string

	logger   *slog.Logger
	registry Registry

	remap map[pipeline.StepHandle]pipeline.StepHandle
}

// Open creates (if absent) the directory layout for pipelineName under
// checkpointRoot, loads any previously-persisted CheckpointGraph, matches it
// against current, performs the atomic remap, and returns a ready store.
// outputRoot may be empty, meaning this store may not publish outputs (used
// for sub-stores). registry may be nil, disabling run journaling entirely;
// the checkpoint semantics are the same either way, except that a non-nil
// registry lets crash recovery complete an unambiguous in-flight rename
// instead of discarding it (see recoverStrandedTemps).
func Open(checkpointRoot, outputRoot, pipelineName string, current *pipeline.CheckpointGraph, logger *slog.Logger, registry Registry) (*ResultStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	root := filepath.Join(checkpointRoot, pipelineName)
	metadataDir := filepath.Join(root, "metadata")
	dataDir := filepath.Join(root, "data")

	for _, dir := range []string{metadataDir, dataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", pipeline.ErrStorageError, dir, err)
		}
	}

	s := &ResultStore{
		checkpointRoot: checkpointRoot,
		outputRoot:     outputRoot,
		pipelineName:   pipelineName,
		metadataDir:    metadataDir,
		dataDir:        dataDir,
		logger:         logger,
		registry:       registry,
	}

	if err := s.recoverStrandedTemps(); err != nil {
		return nil, err
	}

	old, err := pipeline.LoadCheckpointGraph(metadataDir)
	if err != nil {
		return nil, err
	}

	mapping := pipeline.Match(current, old)
	if err := s.remapTo(mapping); err != nil {
		return nil, err
	}
	s.remap = mapping

	if err := current.Save(metadataDir); err != nil {
		return nil, err
	}
	return s, nil
}

// Mapping returns the handle-to-previous-handle mapping computed at Open
// time, keyed by the current pipeline's handles.
func (s *ResultStore) Mapping() map[pipeline.StepHandle]pipeline.StepHandle {
	return s.remap
}

func (s *ResultStore) dataPath(handle pipeline.StepHandle) string {
	return filepath.Join(s.dataDir, handle.String())
}

func (s *ResultStore) metadataPath(handle pipeline.StepHandle) string {
	return filepath.Join(s.metadataDir, handle.String()+".json")
}

// recoverStrandedTemps resolves any "*_temp" data directory or metadata
// file left behind by a crash between the two remap phases. A stranded
// entry's stripped name is always the new handle a phase-1 rename targets
// (store.go's remapTo renames old -> new+"_temp"); if a registry is
// attached and its pending remap journal entry for this pipeline confirms
// that handle as part of the crashed remap, the rename is completed
// forward instead of discarded. With no registry, or no matching pending
// entry, the entry is removed: either the phase-1 name or the final name
// is always safe to lose per the on-disk contract.
func (s *ResultStore) recoverStrandedTemps() error {
	var pending map[pipeline.StepHandle]pipeline.StepHandle
	if s.registry != nil {
		p, ok, err := s.registry.PendingRemap(s.pipelineName)
		if err != nil {
			return fmt.Errorf("%w: query pending remap journal: %v", pipeline.ErrStorageError, err)
		}
		if ok {
			pending = p
		}
	}

	for _, dir := range []string{s.dataDir, s.metadataDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("%w: scan %s: %v", pipeline.ErrStorageError, dir, err)
		}
		for _, e := range entries {
			name := e.Name()
			base, ok := strippedTempSuffix(name)
			if !ok {
				continue
			}
			from := filepath.Join(dir, name)

			if h, ok := parseHandle(base); ok && pending != nil {
				if _, confirmed := pending[h]; confirmed {
					to := filepath.Join(dir, base)
					if dir == s.metadataDir {
						to += ".json"
					}
					s.logger.Warn("completing in-flight remap confirmed by registry journal", "path", from, "final", to)
					if err := os.Rename(from, to); err != nil {
						return fmt.Errorf("%w: complete stranded rename %s -> %s: %v", pipeline.ErrStorageError, from, to, err)
					}
					continue
				}
			}

			s.logger.Warn("removing stranded temp entry from prior crash", "path", from)
			if err := os.RemoveAll(from); err != nil {
				return fmt.Errorf("%w: remove stranded %s: %v", pipeline.ErrStorageError, name, err)
			}
		}
	}

	if s.registry != nil {
		if err := s.registry.RecordRemapComplete(s.pipelineName); err != nil {
			return fmt.Errorf("%w: clear pending remap journal: %v", pipeline.ErrStorageError, err)
		}
	}
	return nil
}

func strippedTempSuffix(name string) (string, bool) {
	const metaSuffix = "_temp.json"
	const dataSuffix = "_temp"
	if strings.HasSuffix(name, metaSuffix) {
		return strings.TrimSuffix(name, metaSuffix), true
	}
	if strings.HasSuffix(name, dataSuffix) {
		return strings.TrimSuffix(name, dataSuffix), true
	}
	return "", false
}

// remapTo implements the two-phase atomic remap described by the on-disk
// contract: prune everything not referenced by mapping's old handles, then
// rename old->new via a _temp intermediate, then rename _temp->final.
func (s *ResultStore) remapTo(mapping map[pipeline.StepHandle]pipeline.StepHandle) error {
	referenced := make(map[pipeline.StepHandle]bool, len(mapping))
	for _, old := range mapping {
		referenced[old] = true
	}

	if err := s.pruneUnreferenced(s.dataDir, referenced); err != nil {
		return err
	}
	if err := s.pruneUnreferencedMetadata(referenced); err != nil {
		return err
	}

	if s.registry != nil && len(mapping) > 0 {
		if err := s.registry.RecordRemapStart(s.pipelineName, mapping); err != nil {
			return fmt.Errorf("%w: journal remap start: %v", pipeline.ErrStorageError, err)
		}
	}

	type rename struct{ from, to string }
	var phase1 []rename
	for newHandle, oldHandle := range mapping {
		phase1 = append(phase1,
			rename{from: s.dataPath(oldHandle), to: s.dataPath(newHandle) + "_temp"},
			rename{from: s.metadataPath(oldHandle), to: tempMetadataPath(s.metadataPath(newHandle))},
		)
	}
	for _, r := range phase1 {
		if _, err := os.Stat(r.from); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(r.from, r.to); err != nil {
			return fmt.Errorf("%w: remap phase 1 rename %s -> %s: %v", pipeline.ErrStorageError, r.from, r.to, err)
		}
	}
	for newHandle := range mapping {
		if err := finalizeTemp(s.dataPath(newHandle) + "_temp", s.dataPath(newHandle)); err != nil {
			return err
		}
		if err := finalizeTemp(tempMetadataPath(s.metadataPath(newHandle)), s.metadataPath(newHandle)); err != nil {
			return err
		}
	}

	if s.registry != nil && len(mapping) > 0 {
		if err := s.registry.RecordRemapComplete(s.pipelineName); err != nil {
			return fmt.Errorf("%w: journal remap complete: %v", pipeline.ErrStorageError, err)
		}
	}
	return nil
}

func tempMetadataPath(finalPath string) string {
	return strings.TrimSuffix(finalPath, ".json") + "_temp.json"
}

func finalizeTemp(temp, final string) error {
	if _, err := os.Stat(temp); os.IsNotExist(err) {
		return nil
	}
	if err := os.Rename(temp, final); err != nil {
		return fmt.Errorf("%w: remap phase 2 rename %s -> %s: %v", pipeline.ErrStorageError, temp, final, err)
	}
	return nil
}

func (s *ResultStore) pruneUnreferenced(dataDir string, referenced map[pipeline.StepHandle]bool) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return fmt.Errorf("%w: scan %s: %v", pipeline.ErrStorageError, dataDir, err)
	}
	for _, e := range entries {
		h, ok := parseHandle(e.Name())
		if !ok || referenced[h] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dataDir, e.Name())); err != nil {
			return fmt.Errorf("%w: prune %s: %v", pipeline.ErrStorageError, e.Name(), err)
		}
	}
	return nil
}

func (s *ResultStore) pruneUnreferencedMetadata(referenced map[pipeline.StepHandle]bool) error {
	entries, err := os.ReadDir(s.metadataDir)
	if err != nil {
		return fmt.Errorf("%w: scan %s: %v", pipeline.ErrStorageError, s.metadataDir, err)
	}
	for _, e := range entries {
		if e.Name() == pipeline.CheckpointFilename {
			continue
		}
		h, ok := parseHandle(strings.TrimSuffix(e.Name(), ".json"))
		if !ok || referenced[h] {
			continue
		}
		if err := os.Remove(filepath.Join(s.metadataDir, e.Name())); err != nil {
			return fmt.Errorf("%w: prune %s: %v", pipeline.ErrStorageError, e.Name(), err)
		}
	}
	return nil
}

func parseHandle(name string) (pipeline.StepHandle, bool) {
	var n int
	if _, err := fmt.Sscanf(name, "%d", &n); err != nil {
		return pipeline.InvalidHandle, false
	}
	if strOf(n) != name {
		return pipeline.InvalidHandle, false
	}
	return pipeline.StepHandle(n), true
}

func strOf(n int) string {
	return fmt.Sprintf("%d", n)
}

type checkpointMetadataFile struct {
	DataFormat string `json:"data_format"`
	Metadata   any    `json:"metadata"`
}

// Store persists value for handle using factory's codec, and writes
// metadata describing it for future checkpoint-validity checks. If the
// handle is an output-marked step, value is additionally published under
// outputRoot/pipelineName/filename.
func (s *ResultStore) Store(handle pipeline.StepHandle, factory pipeline.StepFactory, value any, metadata any, outputFilename string) (err error) {
	dir := s.dataPath(handle)
	// dir/nested holds a sub-pipeline step's sub-store (see SubStorage),
	// i.e. the inner pipeline's checkpoints; it survives a re-store of the
	// step's own value.
	entries, readErr := os.ReadDir(dir)
	if readErr != nil && !os.IsNotExist(readErr) {
		return fmt.Errorf("%w: clear %s: %v", pipeline.ErrStorageError, dir, readErr)
	}
	for _, e := range entries {
		if e.Name() == "nested" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("%w: clear %s: %v", pipeline.ErrStorageError, dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", pipeline.ErrStorageError, dir, err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	codec, err := format.Lookup(factory.DataFormat())
	if err != nil {
		return err
	}
	data, err := codec.Encode(value)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", pipeline.ErrCodecError, handle, err)
	}
	dataFile := filepath.Join(dir, "value"+codec.Extension())
	if err := os.WriteFile(dataFile, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", pipeline.ErrStorageError, dataFile, err)
	}

	metaBytes, err := json.Marshal(checkpointMetadataFile{DataFormat: factory.DataFormat(), Metadata: metadata})
	if err != nil {
		return fmt.Errorf("%w: encode metadata for %s: %v", pipeline.ErrCodecError, handle, err)
	}
	if err := os.WriteFile(s.metadataPath(handle), metaBytes, 0o644); err != nil {
		return fmt.Errorf("%w: write metadata for %s: %v", pipeline.ErrStorageError, handle, err)
	}

	if outputFilename != "" {
		if s.outputRoot == "" {
			return fmt.Errorf("%w: sub-store cannot publish output %q", pipeline.ErrStorageError, outputFilename)
		}
		outDir := filepath.Join(s.outputRoot, s.pipelineName, outputFilename)
		if err := os.RemoveAll(outDir); err != nil {
			return fmt.Errorf("%w: clear output %s: %v", pipeline.ErrStorageError, outDir, err)
		}
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("%w: create output %s: %v", pipeline.ErrStorageError, outDir, err)
		}
		outFile := filepath.Join(outDir, "value"+codec.Extension())
		if err := os.WriteFile(outFile, data, 0o644); err != nil {
			return fmt.Errorf("%w: write output %s: %v", pipeline.ErrStorageError, outFile, err)
		}
	}

	if s.registry != nil {
		s.registry.RecordStore(s.pipelineName, handle)
	}
	return nil
}

// Retrieve loads a previously stored value for handle using factory's
// codec.
func (s *ResultStore) Retrieve(handle pipeline.StepHandle, factory pipeline.StepFactory) (any, error) {
	codec, err := format.Lookup(factory.DataFormat())
	if err != nil {
		return nil, err
	}
	dataFile := filepath.Join(s.dataPath(handle), "value"+codec.Extension())
	data, err := os.ReadFile(dataFile)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrMissingCheckpoint, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", pipeline.ErrStorageError, dataFile, err)
	}
	return codec.Decode(data)
}

// RetrieveMetadata parses the stored metadata payload for handle.
func (s *ResultStore) RetrieveMetadata(handle pipeline.StepHandle) (any, error) {
	data, err := os.ReadFile(s.metadataPath(handle))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrMissingCheckpoint, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata for %s: %v", pipeline.ErrStorageError, handle, err)
	}
	var payload checkpointMetadataFile
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode metadata for %s: %v", pipeline.ErrCodecError, handle, err)
	}
	return payload.Metadata, nil
}

// HaveCheckpoint reports whether both the data directory and metadata file
// exist for handle.
func (s *ResultStore) HaveCheckpoint(handle pipeline.StepHandle) bool {
	if _, err := os.Stat(s.dataPath(handle)); err != nil {
		return false
	}
	if _, err := os.Stat(s.metadataPath(handle)); err != nil {
		return false
	}
	return true
}

// CheckpointPath returns the data directory for handle, for steps that
// need to place auxiliary files next to their checkpoint.
func (s *ResultStore) CheckpointPath(handle pipeline.StepHandle) string {
	return s.dataPath(handle)
}

// SubStorage returns a fresh ResultStore rooted inside handle's data
// directory, for a sub-pipeline's own checkpointing. Sub-stores may never
// publish outputs.
func (s *ResultStore) SubStorage(parent pipeline.StepHandle, innerGraph *pipeline.CheckpointGraph, pipelineName string) (*ResultStore, error) {
	root := filepath.Join(s.dataPath(parent), "nested")
	return Open(root, "", pipelineName, innerGraph, s.logger, s.registry)
}
