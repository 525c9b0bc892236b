// Package asset parses the engine's serialized-asset file format: a
// version-conditional header, a type table, an object directory, a scripts
// table, and an externals list, with targeted parsing of GameObject,
// MonoBehaviour, and MonoScript objects.
package asset

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/unity-buildscan/internal/analysiserr"
	"github.com/apk-analysis/unity-buildscan/internal/cursor"
	"github.com/apk-analysis/unity-buildscan/internal/resolver"
)

const (
	classGameObject  = 1
	classMonoBeh     = 114
	classMonoScript  = 115

	maxStringLen = 1024
)

var builtinClassNames = map[int32]string{
	1: "GameObject", 2: "Component", 4: "Transform", 20: "Camera",
	21: "Material", 23: "Renderer", 28: "Texture2D", 33: "MeshFilter",
	43: "Mesh", 48: "Shader", 64: "MeshRenderer", 65: "GUITexture",
	81: "AudioSource", 92: "GUIText", 104: "RenderTexture", 108: "Light",
	111: "Animation", 114: "MonoBehaviour", 115: "MonoScript", 124: "Flare",
	128: "Font", 137: "PolygonCollider2D", 198: "ParticleSystem",
	199: "ParticleSystemRenderer", 213: "Sprite", 222: "Canvas",
	223: "CanvasRenderer", 224: "RectTransform", 225: "CanvasGroup",
}

func builtinClassName(id int32) string {
	if n, ok := builtinClassNames[id]; ok {
		return n
	}
	return fmt.Sprintf("ClassID(%d)", id)
}

type typeEntry struct {
	classID int32
}

type objectInfo struct {
	pathID    int64
	byteStart int64
	byteSize  uint32
	typeID    int32
	classID   int32
}

type header struct {
	metadataSize int64
	fileSize     int64
	version      int32
	dataOffset   int64
	endian       binary.ByteOrder
}

// Evidence accumulates the cross-file sets Evidence Fusion reads: every
// MonoScript fully-qualified name, and every component name seen on a
// scene-level GameObject.
type Evidence struct {
	AllScripts      map[string]struct{}
	SceneComponents map[string]struct{}
}

func NewEvidence() *Evidence {
	return &Evidence{AllScripts: make(map[string]struct{}), SceneComponents: make(map[string]struct{})}
}

// Options bounds a handful of defensive limits the driver controls.
type Options struct {
	MaxComponentPointers int // defensive bound on GameObject.m_Component count, default 1000
}

// ParseFile parses one serialized-asset file's bytes. When scriptsOnly is
// true, only the MonoScript pre-scan runs (populating res and ev); when
// false, GameObject parsing also runs, resolving MonoBehaviour script
// pointers via res.
func ParseFile(log *logrus.Logger, fileName string, data []byte, scriptsOnly bool, res *resolver.Resolver, ev *Evidence, opts Options) error {
	if opts.MaxComponentPointers <= 0 {
		opts.MaxComponentPointers = 1000
	}

	c := cursor.New(data)

	hdr, err := parseHeader(c)
	if err != nil {
		return err
	}

	types, err := parseTypeTable(c, hdr)
	if err != nil {
		return err
	}

	objects, err := parseObjectDirectory(c, hdr, types)
	if err != nil {
		return err
	}

	if err := parseScriptsTable(c, hdr); err != nil {
		return err
	}

	externals, err := parseExternals(c, hdr)
	if err != nil {
		return err
	}

	objectsByPathID := make(map[int64]objectInfo, len(objects))
	for _, o := range objects {
		objectsByPathID[o.pathID] = o
	}

	for _, o := range objects {
		if o.classID != classMonoScript {
			continue
		}
		name, fallback, err := parseMonoScript(log, data, hdr, o)
		if err != nil {
			log.WithFields(logrus.Fields{"file": fileName, "path_id": o.pathID, "error": err}).Warn("asset: failed to parse MonoScript object, skipping")
			continue
		}
		if name == "" {
			name = fallback
		}
		res.RegisterScript(fileName, o.pathID, name)
		ev.AllScripts[name] = struct{}{}
	}

	if scriptsOnly {
		return nil
	}

	isScene := strings.HasPrefix(strings.ToLower(fileName), "level")

	for _, o := range objects {
		if o.classID != classGameObject {
			continue
		}
		components, err := parseGameObject(log, fileName, data, hdr, o, objectsByPathID, externals, res, opts)
		if err != nil {
			log.WithFields(logrus.Fields{"file": fileName, "path_id": o.pathID, "error": err}).Warn("asset: failed to parse GameObject, skipping")
			continue
		}
		if isScene {
			for _, name := range components {
				ev.SceneComponents[name] = struct{}{}
			}
		}
	}

	return nil
}

func parseHeader(c *cursor.Cursor) (*header, error) {
	metaSize32, err := c.ReadI32(binary.BigEndian)
	if err != nil {
		return nil, analysiserr.ErrShortRead
	}
	fileSize32, err := c.ReadI32(binary.BigEndian)
	if err != nil {
		return nil, analysiserr.ErrShortRead
	}
	version, err := c.ReadI32(binary.BigEndian)
	if err != nil {
		return nil, analysiserr.ErrShortRead
	}
	dataOffset32, err := c.ReadI32(binary.BigEndian)
	if err != nil {
		return nil, analysiserr.ErrShortRead
	}

	h := &header{
		metadataSize: int64(metaSize32),
		fileSize:     int64(fileSize32),
		version:      version,
		dataOffset:   int64(dataOffset32),
		endian:       binary.BigEndian,
	}

	if version >= 9 {
		endianByte, err := c.ReadByte()
		if err != nil {
			return nil, analysiserr.ErrShortRead
		}
		if endianByte == 0 {
			h.endian = binary.LittleEndian
		}
		if err := c.Skip(3); err != nil {
			return nil, analysiserr.ErrShortRead
		}
	}

	if version >= 22 {
		metaSizeU32, err := c.ReadU32(h.endian)
		if err != nil {
			return nil, analysiserr.ErrShortRead
		}
		fileSize64, err := c.ReadI64(h.endian)
		if err != nil {
			return nil, analysiserr.ErrShortRead
		}
		dataOffset64, err := c.ReadI64(h.endian)
		if err != nil {
			return nil, analysiserr.ErrShortRead
		}
		if err := c.Skip(8); err != nil {
			return nil, analysiserr.ErrShortRead
		}
		h.metadataSize = int64(metaSizeU32)
		h.fileSize = fileSize64
		h.dataOffset = dataOffset64
	}

	if version >= 7 {
		if _, err := c.ReadCString(); err != nil { // engine version string
			return nil, analysiserr.ErrShortRead
		}
		if _, err := c.ReadI32(h.endian); err != nil { // target platform
			return nil, analysiserr.ErrShortRead
		}
	}

	return h, nil
}

func parseTypeTable(c *cursor.Cursor, h *header) ([]typeEntry, error) {
	if h.version < 13 {
		return nil, nil
	}

	hasTypeTree, err := c.ReadByte()
	if err != nil {
		return nil, analysiserr.ErrShortRead
	}
	typeCount, err := c.ReadI32(h.endian)
	if err != nil || typeCount < 0 {
		return nil, analysiserr.ErrMalformedAsset
	}

	types := make([]typeEntry, 0, typeCount)
	for i := int32(0); i < typeCount; i++ {
		classID, err := c.ReadI32(h.endian)
		if err != nil {
			return nil, analysiserr.ErrShortRead
		}
		if h.version >= 16 {
			if _, err := c.ReadByte(); err != nil { // stripped flag
				return nil, analysiserr.ErrShortRead
			}
		}
		if h.version >= 17 {
			if _, err := c.ReadI16(h.endian); err != nil { // script type index
				return nil, analysiserr.ErrShortRead
			}
		}
		if classID == classMonoBeh || classID < 0 {
			if _, err := c.ReadBytes(16); err != nil { // script hash
				return nil, analysiserr.ErrShortRead
			}
		}
		if _, err := c.ReadBytes(16); err != nil { // type hash
			return nil, analysiserr.ErrShortRead
		}

		if hasTypeTree != 0 {
			nodeCount, err := c.ReadI32(h.endian)
			if err != nil {
				return nil, analysiserr.ErrShortRead
			}
			stringTableSize, err := c.ReadI32(h.endian)
			if err != nil {
				return nil, analysiserr.ErrShortRead
			}
			if nodeCount < 0 || stringTableSize < 0 {
				return nil, analysiserr.ErrMalformedAsset
			}
			nodeSize := 24
			if h.version >= 19 {
				nodeSize = 32
			}
			if err := c.Skip(int(nodeCount)*nodeSize + int(stringTableSize)); err != nil {
				return nil, analysiserr.ErrShortRead
			}
		}

		types = append(types, typeEntry{classID: classID})
	}

	return types, nil
}

func parseObjectDirectory(c *cursor.Cursor, h *header, types []typeEntry) ([]objectInfo, error) {
	count, err := c.ReadI32(h.endian)
	if err != nil || count < 0 {
		return nil, analysiserr.ErrMalformedAsset
	}

	objects := make([]objectInfo, 0, count)
	for i := int32(0); i < count; i++ {
		if h.version >= 22 {
			c.Align(4)
		}

		var pathID int64
		if h.version >= 14 {
			pathID, err = c.ReadI64(h.endian)
		} else {
			var p32 int32
			p32, err = c.ReadI32(h.endian)
			pathID = int64(p32)
		}
		if err != nil {
			return nil, analysiserr.ErrShortRead
		}

		var byteStart int64
		if h.version >= 22 {
			byteStart, err = c.ReadI64(h.endian)
		} else {
			var b32 int32
			b32, err = c.ReadI32(h.endian)
			byteStart = int64(b32)
		}
		if err != nil {
			return nil, analysiserr.ErrShortRead
		}

		byteSize, err := c.ReadU32(h.endian)
		if err != nil {
			return nil, analysiserr.ErrShortRead
		}
		typeID, err := c.ReadI32(h.endian)
		if err != nil {
			return nil, analysiserr.ErrShortRead
		}

		classID := typeID
		if h.version < 16 {
			classID16, err := c.ReadU16(h.endian)
			if err != nil {
				return nil, analysiserr.ErrShortRead
			}
			classID = int32(classID16)
		}
		if h.version == 15 || h.version == 16 {
			if _, err := c.ReadByte(); err != nil { // stripped flag
				return nil, analysiserr.ErrShortRead
			}
		}
		if h.version >= 16 {
			if int(typeID) >= 0 && int(typeID) < len(types) {
				classID = types[typeID].classID
			} else {
				classID = typeID
			}
		}

		objects = append(objects, objectInfo{
			pathID:    pathID,
			byteStart: byteStart,
			byteSize:  byteSize,
			typeID:    typeID,
			classID:   classID,
		})
	}

	return objects, nil
}

func parseScriptsTable(c *cursor.Cursor, h *header) error {
	if h.version < 11 {
		return nil
	}
	count, err := c.ReadI32(h.endian)
	if err != nil || count < 0 {
		return analysiserr.ErrMalformedAsset
	}
	for i := int32(0); i < count; i++ {
		n := 4
		if h.version >= 14 {
			n = 8
		}
		if err := c.Skip(n); err != nil {
			return analysiserr.ErrShortRead
		}
	}
	return nil
}

func parseExternals(c *cursor.Cursor, h *header) ([]string, error) {
	count, err := c.ReadI32(h.endian)
	if err != nil || count < 0 {
		return nil, analysiserr.ErrMalformedAsset
	}

	externals := make([]string, 0, count)
	for i := int32(0); i < count; i++ {
		if h.version >= 6 {
			if _, err := c.ReadCString(); err != nil { // asset-name
				return nil, analysiserr.ErrShortRead
			}
		}
		if _, err := c.ReadBytes(16); err != nil { // GUID
			return nil, analysiserr.ErrShortRead
		}
		if _, err := c.ReadI32(h.endian); err != nil { // type
			return nil, analysiserr.ErrShortRead
		}
		pathName, err := c.ReadCString()
		if err != nil {
			return nil, analysiserr.ErrShortRead
		}
		externals = append(externals, basename(pathName))
	}

	return externals, nil
}

func basename(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// parseMonoScript reads one MonoScript object's fields, returning the
// fully-qualified name (namespace + "." + class) and the raw script name
// to use as a fallback when the class name is empty.
func parseMonoScript(log *logrus.Logger, data []byte, h *header, o objectInfo) (fqName, fallback string, err error) {
	body, err := objectBytes(data, h, o)
	if err != nil {
		return "", "", err
	}
	c := cursor.New(body)

	scriptName, err := c.ReadLengthPrefixed(h.endian, maxStringLen)
	if err != nil {
		return "", "", analysiserr.ErrShortRead
	}
	c.Align(4)

	if err := c.Skip(4); err != nil { // execution order
		return "", "", analysiserr.ErrShortRead
	}
	if _, err := c.ReadBytes(16); err != nil { // properties hash
		return "", "", analysiserr.ErrShortRead
	}

	className, err := c.ReadLengthPrefixed(h.endian, maxStringLen)
	if err != nil {
		return "", "", analysiserr.ErrShortRead
	}
	c.Align(4)

	namespaceName, err := c.ReadLengthPrefixed(h.endian, maxStringLen)
	if err != nil {
		return "", "", analysiserr.ErrShortRead
	}
	c.Align(4)

	if _, err := c.ReadLengthPrefixed(h.endian, maxStringLen); err != nil { // assembly name
		return "", "", analysiserr.ErrShortRead
	}

	if className == "" {
		return "", scriptName, nil
	}
	if namespaceName != "" {
		return namespaceName + "." + className, scriptName, nil
	}
	return className, scriptName, nil
}

// parseGameObject reads one GameObject's component-pointer list and its own
// name/layer fields, returning the resolved name of every component.
func parseGameObject(log *logrus.Logger, currentFile string, data []byte, h *header, o objectInfo, objectsByPathID map[int64]objectInfo, externals []string, res *resolver.Resolver, opts Options) ([]string, error) {
	body, err := objectBytes(data, h, o)
	if err != nil {
		return nil, err
	}
	c := cursor.New(body)

	componentCount, err := c.ReadI32(h.endian)
	if err != nil {
		return nil, analysiserr.ErrShortRead
	}
	if componentCount < 0 || int(componentCount) > opts.MaxComponentPointers {
		return nil, analysiserr.ErrMalformedAsset
	}

	components := make([]string, 0, componentCount)
	for i := int32(0); i < componentCount; i++ {
		fileID, err := c.ReadI32(h.endian)
		if err != nil {
			return nil, analysiserr.ErrShortRead
		}
		var pathID int64
		if h.version >= 14 {
			pathID, err = c.ReadI64(h.endian)
		} else {
			var p32 int32
			p32, err = c.ReadI32(h.endian)
			pathID = int64(p32)
		}
		if err != nil {
			return nil, analysiserr.ErrShortRead
		}

		name := nameComponent(log, currentFile, data, h, objectsByPathID, externals, res, fileID, pathID)
		components = append(components, name)
	}

	if _, err := c.ReadI32(h.endian); err != nil { // layer
		return nil, analysiserr.ErrShortRead
	}
	if _, err := c.ReadLengthPrefixed(h.endian, maxStringLen); err != nil { // name
		return nil, analysiserr.ErrShortRead
	}

	return components, nil
}

func nameComponent(log *logrus.Logger, currentFile string, data []byte, h *header, objectsByPathID map[int64]objectInfo, externals []string, res *resolver.Resolver, fileID int32, pathID int64) string {
	targetFile := currentFile
	if fileID > 0 && int(fileID) <= len(externals) {
		targetFile = externals[fileID-1]
	}

	if targetFile != currentFile {
		return res.Resolve(currentFile, externals, fileID, pathID)
	}

	target, ok := objectsByPathID[pathID]
	if !ok {
		return builtinClassName(-1)
	}
	if target.classID != classMonoBeh {
		return builtinClassName(target.classID)
	}

	name, err := resolveMonoBehaviourScriptName(currentFile, data, h, target, externals, res)
	if err != nil {
		log.WithFields(logrus.Fields{"file": currentFile, "path_id": pathID, "error": err}).
			Warn("asset: failed to read MonoBehaviour body, using sentinel name")
		return resolver.SentinelName
	}
	return name
}

// resolveMonoBehaviourScriptName reads a MonoBehaviour object's leading
// fields (m_GameObject, m_Enabled, m_Script) to find its script pointer,
// then resolves that pointer to a fully-qualified script name.
func resolveMonoBehaviourScriptName(currentFile string, data []byte, h *header, o objectInfo, externals []string, res *resolver.Resolver) (string, error) {
	body, err := objectBytes(data, h, o)
	if err != nil {
		return "", err
	}
	c := cursor.New(body)

	if _, err := c.ReadI32(h.endian); err != nil { // m_GameObject.file-id
		return "", analysiserr.ErrShortRead
	}
	if h.version >= 14 {
		if _, err := c.ReadI64(h.endian); err != nil {
			return "", analysiserr.ErrShortRead
		}
	} else {
		if _, err := c.ReadI32(h.endian); err != nil {
			return "", analysiserr.ErrShortRead
		}
	}

	if _, err := c.ReadByte(); err != nil { // m_Enabled
		return "", analysiserr.ErrShortRead
	}
	c.Align(4)

	scriptFileID, err := c.ReadI32(h.endian)
	if err != nil {
		return "", analysiserr.ErrShortRead
	}
	var scriptPathID int64
	if h.version >= 14 {
		scriptPathID, err = c.ReadI64(h.endian)
	} else {
		var p32 int32
		p32, err = c.ReadI32(h.endian)
		scriptPathID = int64(p32)
	}
	if err != nil {
		return "", analysiserr.ErrShortRead
	}

	return res.Resolve(currentFile, externals, scriptFileID, scriptPathID), nil
}

func objectBytes(data []byte, h *header, o objectInfo) ([]byte, error) {
	start := h.dataOffset + o.byteStart
	end := start + int64(o.byteSize)
	if start < 0 || end < start || end > int64(len(data)) {
		return nil, analysiserr.ErrMalformedAsset
	}
	return data[start:end], nil
}
