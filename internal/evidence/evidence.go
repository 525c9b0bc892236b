// Package evidence implements the detector rules that turn the Script
// Resolver's accumulated sets, the IL metadata blob, and the two manifest
// texts into the reported engine-version, render-pipeline, and subsystem
// findings. Every detector here is a pure function over its explicit
// inputs; no state couples them.
package evidence

import (
	"regexp"
	"sort"
	"strings"
)

var engineVersionPattern = regexp.MustCompile(`(20[0-9]{2}|[5-9][0-9]{3})\.[0-9]+\.[0-9]+[fpab][0-9]*`)

// DetectEngineVersion returns the first non-empty regex match of the
// semantic-version pattern across haystacks, in order, or "Unknown" if
// none match.
func DetectEngineVersion(haystacks ...string) string {
	for _, h := range haystacks {
		if m := engineVersionPattern.FindString(h); m != "" {
			return m
		}
	}
	return "Unknown"
}

// DetectRenderPipeline classifies the render pipeline from the metadata
// blob's printable-ASCII extraction. An absent blob (metadataPresent
// false) yields "Unknown"; a present blob with none of the known markers
// yields "Built-in".
func DetectRenderPipeline(metadataASCII string, metadataPresent bool) string {
	lower := strings.ToLower(metadataASCII)
	switch {
	case containsAny(lower, "com.unity.render-pipelines.universal", "unityengine.rendering.universal", "universalrenderpipeline", "forwardrenderer", "renderer2d"):
		return "URP"
	case containsAny(lower, "com.unity.render-pipelines.high-definition", "unityengine.rendering.highdefinition", "hdrenderpipeline"):
		return "HDRP"
	case containsAny(lower, "com.unity.render-pipelines.core"):
		return "SRP"
	case !metadataPresent:
		return "Unknown"
	default:
		return "Built-in"
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func anyKeyContainsFold(set map[string]struct{}, needle string) bool {
	for k := range set {
		if containsFold(k, needle) {
			return true
		}
	}
	return false
}

// DetectEntityRuntime implements the Unity.Entities (DOTS) detector.
func DetectEntityRuntime(sceneComponents map[string]struct{}, assembliesManifest, runtimeInitManifest string) string {
	if anyKeyContainsFold(sceneComponents, "SubScene") {
		return "yes (Scene)"
	}
	if containsFold(assembliesManifest, "Unity.Entities") || containsFold(assembliesManifest, "Unity.Entities.Hybrid") ||
		containsFold(runtimeInitManifest, "Unity.Entities") || containsFold(runtimeInitManifest, "Unity.Entities.Hybrid") {
		return "yes"
	}
	return "no"
}

// DetectEntityPhysics implements the Unity.Physics detector.
func DetectEntityPhysics(assembliesManifest string) string {
	if containsFold(assembliesManifest, "Unity.Physics") {
		return "yes"
	}
	return "no"
}

// DetectThirdPartyPhysics implements the Havok.Physics detector.
func DetectThirdPartyPhysics(assembliesManifest, runtimeInitManifest, metadataASCII string) string {
	if containsFold(assembliesManifest, "Havok.Physics") || containsFold(assembliesManifest, "com.havok.physics") {
		return "yes (Assembly)"
	}
	if containsFold(runtimeInitManifest, "Havok.Physics") || containsFold(metadataASCII, "Havok.Physics") {
		return "yes"
	}
	return "no"
}

// DetectLegacyUI implements the NGUI detector.
func DetectLegacyUI(allScripts map[string]struct{}, assembliesManifest, metadataASCII string) string {
	if anyKeyContainsFold(allScripts, "NGUI") {
		return "yes (Script)"
	}
	if containsFold(assembliesManifest, "NGUI") || containsFold(metadataASCII, "NGUI") {
		return "yes"
	}
	return "no"
}

// DetectUIToolkit implements the UIDocument (UI Toolkit) detector.
func DetectUIToolkit(sceneComponents map[string]struct{}) string {
	if anyKeyContainsFold(sceneComponents, "UIDocument") {
		return "yes (Scene)"
	}
	return "no"
}

var catalogPattern = regexp.MustCompile(`(?i)catalog.*\.(json|hash)`)

// containerNames is the subset of containerindex.Index's search surface
// DetectContentPipeline needs, kept as a local interface so tests can
// exercise the detector without opening real archives.
type containerNames interface {
	ContainsAnywhere(needle string) bool
	MatchAnywhere(match func(normalizedName string) bool) bool
}

// DetectContentPipeline implements the Addressables detector: it looks
// for an "aa/" or "addressables" path segment or a catalog manifest
// anywhere across every open container.
func DetectContentPipeline(idx containerNames) bool {
	if idx.ContainsAnywhere("aa/") || idx.ContainsAnywhere("addressables") {
		return true
	}
	return idx.MatchAnywhere(func(n string) bool { return catalogPattern.MatchString(n) })
}

// ScriptCount pairs a major-scripts ranking key with its occurrence count.
type ScriptCount struct {
	Key   string
	Count int
}

var unityPrefixes = map[string]struct{}{
	"UnityEngine": {}, "Unity": {}, "UnityEditor": {},
}

// majorScriptKey derives a ranking key: the first two dotted segments for
// Unity/UnityEngine/UnityEditor-prefixed names with at least three
// segments, otherwise the first segment. A script with no '.' has only one
// segment, which is itself the key; no "(no namespace)" key is produced.
func majorScriptKey(fqName string) string {
	segments := strings.Split(fqName, ".")
	if _, ok := unityPrefixes[segments[0]]; ok && len(segments) >= 3 {
		return segments[0] + "." + segments[1]
	}
	return segments[0]
}

// RankMajorScripts groups AllScripts by namespace key, counts occurrences,
// and returns the top 30 keys sorted by count descending. Ties break by key
// ascending for a stable, deterministic order.
func RankMajorScripts(allScripts map[string]struct{}) []ScriptCount {
	counts := make(map[string]int)
	for name := range allScripts {
		counts[majorScriptKey(name)]++
	}

	ranked := make([]ScriptCount, 0, len(counts))
	for k, c := range counts {
		ranked = append(ranked, ScriptCount{Key: k, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Key < ranked[j].Key
	})

	const maxRanked = 30
	if len(ranked) > maxRanked {
		ranked = ranked[:maxRanked]
	}
	return ranked
}
