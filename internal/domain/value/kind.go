package value

import "fmt"

// HandlerKind is the closed set of syntax families the pipeline knows.
type HandlerKind string

const (
	KindEscaped    HandlerKind = "escaped"
	KindVariable   HandlerKind = "variable"
	KindWikiTag    HandlerKind = "wikitag"
	KindPlugin     HandlerKind = "plugin"
	KindForm       HandlerKind = "form"
	KindInterWiki  HandlerKind = "interwiki"
	KindAttachment HandlerKind = "attachment"
	KindStyle      HandlerKind = "style"
)

// AllHandlerKinds lists every kind in default priority order.
func AllHandlerKinds() []HandlerKind {
	return []HandlerKind{
		KindEscaped,
		KindVariable,
		KindWikiTag,
		KindPlugin,
		KindForm,
		KindInterWiki,
		KindAttachment,
		KindStyle,
	}
}

// ParseHandlerKind converts a configuration string to a HandlerKind.
func ParseHandlerKind(s string) (HandlerKind, error) {
	for _, k := range AllHandlerKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown handler kind %q", s)
}

// HandlerID is the registry id of the built-in handler for this kind.
func (k HandlerKind) HandlerID() string {
	switch k {
	case KindEscaped:
		return "EscapedSyntaxHandler"
	case KindVariable:
		return "VariableSyntaxHandler"
	case KindWikiTag:
		return "WikiTagHandler"
	case KindPlugin:
		return "PluginSyntaxHandler"
	case KindForm:
		return "WikiFormHandler"
	case KindInterWiki:
		return "InterWikiLinkHandler"
	case KindAttachment:
		return "AttachmentHandler"
	case KindStyle:
		return "WikiStyleHandler"
	}
	return string(k)
}

// DefaultPriority is the built-in priority for the kind. Higher runs first.
func (k HandlerKind) DefaultPriority() int {
	switch k {
	case KindEscaped:
		return 100
	case KindVariable, KindWikiTag:
		return 95
	case KindPlugin:
		return 90
	case KindForm:
		return 85
	case KindInterWiki:
		return 80
	case KindAttachment:
		return 75
	case KindStyle:
		return 70
	}
	return 50
}

// CacheRegion names an independently configured cache.
type CacheRegion string

const (
	RegionParseResults   CacheRegion = "parseResults"
	RegionHandlerResults CacheRegion = "handlerResults"
	RegionPatterns       CacheRegion = "patterns"
	RegionVariables      CacheRegion = "variables"
)

// AllCacheRegions lists the regions in a stable order.
func AllCacheRegions() []CacheRegion {
	return []CacheRegion{RegionParseResults, RegionHandlerResults, RegionPatterns, RegionVariables}
}
