// Package analysis is the Driver façade: it orchestrates the Container
// Index, the Bundle/Asset two-pass scan, and Evidence Fusion into one
// synchronous analysis call, and persists the raw artifacts a caller may
// want to inspect later.
package analysis

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/unity-buildscan/internal/analysiserr"
	"github.com/apk-analysis/unity-buildscan/internal/asset"
	"github.com/apk-analysis/unity-buildscan/internal/bundle"
	"github.com/apk-analysis/unity-buildscan/internal/containerindex"
	"github.com/apk-analysis/unity-buildscan/internal/evidence"
	"github.com/apk-analysis/unity-buildscan/internal/resolver"
	"github.com/apk-analysis/unity-buildscan/internal/scanner"
)

const (
	pathGlobalGameManagers  = "assets/bin/data/globalgamemanagers"
	pathDataUnity3D         = "assets/bin/data/data.unity3d"
	pathScriptingAssemblies = "assets/bin/data/scriptingassemblies.json"
	pathRuntimeInit         = "assets/bin/data/runtimeinitializeonloads.json"
	pathMetadata            = "assets/bin/data/managed/metadata/global-metadata.dat"
	pathLibUnityArm64       = "lib/arm64-v8a/libunity.so"
	pathLibUnityArmeabi     = "lib/armeabi-v7a/libunity.so"
)

// Result is the assembled outcome of one analysis call (§3 AnalysisResult).
type Result struct {
	Title                  string
	EngineVersion          string
	RenderPipeline         string
	EntitiesUsed           string
	EntityPhysicsUsed      string
	ThirdPartyPhysicsUsed  string
	LegacyUIUsed           string
	UIToolkitUsed          string
	ContentPipelineUsed    bool
	MajorScripts           []evidence.ScriptCount
	PersistedMetadataPath  string // empty if persistence failed or there was no metadata blob
	PersistedManifestPath  string // empty if persistence failed or the manifest was empty
}

// Options bounds the driver's tunables; all have the defaults spec.md names.
type Options struct {
	DownloadRoot     string // root for <download-root>/LastAnalysis/, default <user config dir>/unity-buildscan ("." if that dir is unknown)
	MinPrintableRun  int    // Byte Scanner minimum run length, default 4
	MaxComponentPtrs int    // GameObject component-pointer defensive bound, default 1000
}

func (o *Options) applyDefaults() {
	if o.DownloadRoot == "" {
		o.DownloadRoot = "."
		if dir, err := os.UserConfigDir(); err == nil {
			o.DownloadRoot = filepath.Join(dir, "unity-buildscan")
		}
	}
	if o.MinPrintableRun <= 0 {
		o.MinPrintableRun = 4
	}
	if o.MaxComponentPtrs <= 0 {
		o.MaxComponentPtrs = 1000
	}
}

// Run opens archivePaths as a Container Index, runs the full pipeline, and
// returns the assembled result. title is caller-supplied (e.g. the
// package's display name); the Driver has no independent source for it.
// ErrNoContainers is the only error Run returns; every other failure is
// localized, logged, and reflected as an "Unknown"/"no" finding or an
// empty persisted-path field.
func Run(log *logrus.Logger, title string, archivePaths []string, opts Options) (*Result, error) {
	opts.applyDefaults()

	idx, err := containerindex.Open(log, archivePaths)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := idx.Close(); cerr != nil {
			log.WithError(cerr).Warn("analysis: failed closing one or more containers")
		}
	}()

	res := resolver.New(log)
	res.Clear()

	assembliesManifest := readManifestText(idx, pathScriptingAssemblies)
	runtimeInitManifest := readManifestText(idx, pathRuntimeInit)

	metadata, hasMetadata := idx.FindEntry(pathMetadata)

	ev := asset.NewEvidence()
	assetOpts := asset.Options{MaxComponentPointers: opts.MaxComponentPtrs}

	walkEntries(log, idx, res, ev, true, assetOpts)
	walkEntries(log, idx, res, ev, false, assetOpts)

	engineVersion := detectEngineVersion(idx, metadata, opts.MinPrintableRun)

	metadataASCII := ""
	if hasMetadata {
		metadataASCII = scanner.ExtractPrintableASCII(metadata, opts.MinPrintableRun)
	}
	renderPipeline := evidence.DetectRenderPipeline(metadataASCII, hasMetadata)

	result := &Result{
		Title:                 title,
		EngineVersion:         engineVersion,
		RenderPipeline:        renderPipeline,
		EntitiesUsed:          evidence.DetectEntityRuntime(ev.SceneComponents, assembliesManifest, runtimeInitManifest),
		EntityPhysicsUsed:     evidence.DetectEntityPhysics(assembliesManifest),
		ThirdPartyPhysicsUsed: evidence.DetectThirdPartyPhysics(assembliesManifest, runtimeInitManifest, metadataASCII),
		LegacyUIUsed:          evidence.DetectLegacyUI(ev.AllScripts, assembliesManifest, metadataASCII),
		UIToolkitUsed:         evidence.DetectUIToolkit(ev.SceneComponents),
		ContentPipelineUsed:   evidence.DetectContentPipeline(idx),
		MajorScripts:          evidence.RankMajorScripts(ev.AllScripts),
	}

	result.PersistedMetadataPath = persistArtifact(log, opts.DownloadRoot, "global-metadata.dat", metadata, hasMetadata)
	if assembliesManifest != "" {
		result.PersistedManifestPath = persistArtifact(log, opts.DownloadRoot, "ScriptingAssemblies.json", []byte(assembliesManifest), true)
	}

	return result, nil
}

// walkEntries runs one full pass (scripts-only or not) over every container
// entry: bundles are opened and their nodes filtered and parsed; non-bundle
// entries matching the standalone serialized-file naming rule are parsed
// directly. Per §5, the first pass fully completes before the second
// begins, and archives/entries/nodes are visited in their natural order —
// callers (Run) enforce the ordering across the two walkEntries calls.
func walkEntries(log *logrus.Logger, idx *containerindex.Index, res *resolver.Resolver, ev *asset.Evidence, scriptsOnly bool, assetOpts asset.Options) {
	for _, e := range idx.IterEntries() {
		data, ok := idx.FindEntry(e.Name)
		if !ok {
			continue
		}
		processEntry(log, e.Name, data, res, ev, scriptsOnly, assetOpts)
	}
}

func processEntry(log *logrus.Logger, name string, data []byte, res *resolver.Resolver, ev *asset.Evidence, scriptsOnly bool, assetOpts asset.Options) {
	if b, err := bundle.Parse(log, data); err == nil {
		for _, n := range b.Nodes {
			if !bundle.ShouldParseNode(n) {
				continue
			}
			nb, err := b.NodeBytes(n)
			if err != nil {
				log.WithFields(logrus.Fields{"node": n.Path, "error": err}).Warn("analysis: failed to materialize node, skipping")
				continue
			}
			fileName := basename(n.Path)
			if err := asset.ParseFile(log, fileName, nb, scriptsOnly, res, ev, assetOpts); err != nil {
				log.WithFields(logrus.Fields{"node": n.Path, "error": err}).Warn("analysis: failed to parse node as asset, skipping")
			}
		}
		return
	}

	if isStandaloneAssetPath(name) {
		fileName := basename(name)
		if err := asset.ParseFile(log, fileName, data, scriptsOnly, res, ev, assetOpts); err != nil {
			log.WithFields(logrus.Fields{"entry": name, "error": err}).Warn("analysis: failed to parse container entry as asset, skipping")
		}
	}
}

// isStandaloneAssetPath mirrors bundle.ShouldParseNode's suffix/substring
// rules, applied to a normalized container entry path rather than a bundle
// node path (§6 "Expected paths").
func isStandaloneAssetPath(normalizedName string) bool {
	if strings.HasSuffix(normalizedName, ".ress") || strings.HasSuffix(normalizedName, ".resource") ||
		strings.HasSuffix(normalizedName, ".resourcebatch") || strings.HasSuffix(normalizedName, ".bundle") {
		return false
	}
	if strings.HasSuffix(normalizedName, ".assets") || strings.HasSuffix(normalizedName, ".sharedassets") {
		return true
	}
	if strings.Contains(normalizedName, "globalgamemanagers") || strings.Contains(normalizedName, "/level") ||
		strings.HasPrefix(normalizedName, "level") || strings.Contains(normalizedName, "unity_builtin_extra") ||
		strings.Contains(normalizedName, "unity default resources") {
		return true
	}
	return false
}

func basename(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func detectEngineVersion(idx *containerindex.Index, metadata []byte, minPrintableRun int) string {
	haystacks := make([]string, 0, 5)
	for _, p := range []string{pathGlobalGameManagers, pathDataUnity3D, pathLibUnityArm64, pathLibUnityArmeabi} {
		if b, ok := idx.FindEntry(p); ok {
			haystacks = append(haystacks, scanner.ExtractPrintableASCII(b, minPrintableRun))
		} else {
			haystacks = append(haystacks, "")
		}
	}
	if len(metadata) > 0 {
		haystacks = append(haystacks, scanner.ExtractPrintableASCII(metadata, minPrintableRun))
	}
	return evidence.DetectEngineVersion(haystacks...)
}

func readManifestText(idx *containerindex.Index, path string) string {
	b, ok := idx.FindEntry(path)
	if !ok {
		return ""
	}
	return decodeManifestText(b)
}

// decodeManifestText prefers UTF-8 and falls back to treating the bytes as
// Latin-1 (the host default on the platforms this tool targets) when they
// are not valid UTF-8 — cheap, and sufficient for manifest
// JSON that is overwhelmingly ASCII either way.
func decodeManifestText(b []byte) string {
	if isValidUTF8(b) {
		return string(b)
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

func isValidUTF8(b []byte) bool {
	return strings.ToValidUTF8(string(b), "�") == string(b)
}

// persistArtifact writes data to <downloadRoot>/LastAnalysis/name when
// present is true, returning the path written or "" on any failure — per
// §7, ErrPersistFailure is swallowed and the in-memory result still stands.
func persistArtifact(log *logrus.Logger, downloadRoot, name string, data []byte, present bool) string {
	if !present {
		return ""
	}
	dir := filepath.Join(downloadRoot, "LastAnalysis")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.WithError(err).WithField("wrapped", analysiserr.ErrPersistFailure).Warn("analysis: failed to create LastAnalysis directory")
		return ""
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.WithError(err).WithField("wrapped", analysiserr.ErrPersistFailure).Warn("analysis: failed to persist artifact")
		return ""
	}
	return path
}
