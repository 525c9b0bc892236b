package evidence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectEngineVersionFirstMatchWins(t *testing.T) {
	got := DetectEngineVersion("", "nothing here", "build 2022.3.14f1 stable", "2099.1.1f1")
	assert.Equal(t, "2022.3.14f1", got)
}

func TestDetectEngineVersionNoMatchIsUnknown(t *testing.T) {
	got := DetectEngineVersion("", "no version string")
	assert.Equal(t, "Unknown", got)
}

func TestDetectRenderPipelineURP(t *testing.T) {
	got := DetectRenderPipeline("references com.unity.render-pipelines.universal in the catalog", true)
	assert.Equal(t, "URP", got)
}

func TestDetectRenderPipelineHDRP(t *testing.T) {
	got := DetectRenderPipeline("UnityEngine.Rendering.HighDefinition.HDRenderPipeline", true)
	assert.Equal(t, "HDRP", got)
}

func TestDetectRenderPipelineAbsentMetadataIsUnknown(t *testing.T) {
	got := DetectRenderPipeline("", false)
	assert.Equal(t, "Unknown", got)
}

func TestDetectRenderPipelinePresentNoMarkersIsBuiltin(t *testing.T) {
	got := DetectRenderPipeline("nothing interesting here", true)
	assert.Equal(t, "Built-in", got)
}

func TestDetectEntityRuntimeSceneWins(t *testing.T) {
	scene := map[string]struct{}{"SubScene": {}}
	got := DetectEntityRuntime(scene, "", "")
	assert.Equal(t, "yes (Scene)", got)
}

func TestDetectEntityRuntimeFromManifest(t *testing.T) {
	got := DetectEntityRuntime(nil, "Unity.Entities, Version=1.0", "")
	assert.Equal(t, "yes", got)
}

func TestDetectEntityRuntimeNoEvidence(t *testing.T) {
	got := DetectEntityRuntime(nil, "", "")
	assert.Equal(t, "no", got)
}

func TestDetectEntityPhysicsOnlyManifest(t *testing.T) {
	assert.Equal(t, "yes", DetectEntityPhysics("Unity.Physics"))
	assert.Equal(t, "no", DetectEntityPhysics(""))
}

func TestDetectThirdPartyPhysicsAssemblyVariant(t *testing.T) {
	got := DetectThirdPartyPhysics("Havok.Physics, Version=1.0", "", "")
	assert.Equal(t, "yes (Assembly)", got)
}

func TestDetectThirdPartyPhysicsRuntimeInitVariant(t *testing.T) {
	got := DetectThirdPartyPhysics("", "Havok.Physics", "")
	assert.Equal(t, "yes", got)
}

func TestDetectThirdPartyPhysicsNone(t *testing.T) {
	got := DetectThirdPartyPhysics("", "", "")
	assert.Equal(t, "no", got)
}

func TestDetectLegacyUIScriptVariant(t *testing.T) {
	scripts := map[string]struct{}{"NGUIText": {}}
	got := DetectLegacyUI(scripts, "", "")
	assert.Equal(t, "yes (Script)", got)
}

func TestDetectLegacyUIManifestVariant(t *testing.T) {
	got := DetectLegacyUI(nil, "depends on NGUI", "")
	assert.Equal(t, "yes", got)
}

func TestDetectUIToolkitScene(t *testing.T) {
	scene := map[string]struct{}{"UnityEngine.UIElements.UIDocument": {}}
	got := DetectUIToolkit(scene)
	assert.Equal(t, "yes (Scene)", got)
}

func TestDetectUIToolkitAbsent(t *testing.T) {
	assert.Equal(t, "no", DetectUIToolkit(nil))
}

// fakeContainerNames is a minimal containerNames stand-in so these tests
// don't need to open a real archive.
type fakeContainerNames struct {
	names []string
}

func (f fakeContainerNames) ContainsAnywhere(needle string) bool {
	for _, n := range f.names {
		if strings.Contains(n, strings.ToLower(needle)) {
			return true
		}
	}
	return false
}

func (f fakeContainerNames) MatchAnywhere(match func(string) bool) bool {
	for _, n := range f.names {
		if match(n) {
			return true
		}
	}
	return false
}

func TestDetectContentPipelineAaPrefix(t *testing.T) {
	idx := fakeContainerNames{names: []string{"assets/aa/catalog_1.hash"}}
	assert.True(t, DetectContentPipeline(idx))
}

func TestDetectContentPipelineAbsent(t *testing.T) {
	idx := fakeContainerNames{names: []string{"assets/bin/data/globalgamemanagers"}}
	assert.False(t, DetectContentPipeline(idx))
}

func TestRankMajorScriptsScenario(t *testing.T) {
	scripts := map[string]struct{}{
		"UnityEngine.UI.Image":       {},
		"UnityEngine.UI.Text":        {},
		"Unity.Burst.BurstCompiler":  {},
		"MyGame.Enemy":               {},
		"MyGame.Enemy.Spawner":       {},
		"Foo":                        {},
	}

	ranked := RankMajorScripts(scripts)

	byKey := make(map[string]int)
	for _, rc := range ranked {
		byKey[rc.Key] = rc.Count
	}

	assert.Equal(t, 2, byKey["UnityEngine.UI"])
	assert.Equal(t, 1, byKey["Unity.Burst"])
	assert.Equal(t, 2, byKey["MyGame"])
	assert.Equal(t, 1, byKey["Foo"])
}

func TestRankMajorScriptsCapsAtThirty(t *testing.T) {
	scripts := make(map[string]struct{})
	for i := 0; i < 40; i++ {
		scripts[string(rune('A'+i%26))+string(rune('0'+i))] = struct{}{}
	}
	ranked := RankMajorScripts(scripts)
	assert.LessOrEqual(t, len(ranked), 30)
}
