package lti

import (
	"strconv"
	"strings"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
)

// Version tags the launch protocol a context was validated under. The tag
// itself lives with the registration records in the consumer package.
type Version = consumer.Version

const (
	V1P0 = consumer.V1P0
	V1P3 = consumer.V1P3
)

// IMS claim URIs used by LTI 1.3 launches.
const (
	ClaimMessageType        = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ClaimVersion            = "https://purl.imsglobal.org/spec/lti/claim/version"
	ClaimDeploymentID       = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	ClaimTargetLinkURI      = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	ClaimContext            = "https://purl.imsglobal.org/spec/lti/claim/context"
	ClaimResourceLink       = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	ClaimRoles              = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ClaimCustom             = "https://purl.imsglobal.org/spec/lti/claim/custom"
	ClaimLaunchPresentation = "https://purl.imsglobal.org/spec/lti/claim/launch_presentation"

	MessageTypeResourceLink = "LtiResourceLinkRequest"
)

// UserIdentity is the validated identity carried by a launch. For v1.0/1.1
// launches the subject is empty and name/email are resolved later from the
// consumer's configured parameter keys.
type UserIdentity struct {
	Subject string
	Name    string
	Email   string
}

// LaunchContext is the protocol-agnostic view of one validated launch. It is
// created exactly once by a validator and passed by reference through the
// pipeline. Extension points may enrich the bag via Set but the
// identity-bearing fields are fixed after validation.
type LaunchContext struct {
	version       Version
	consumerID    string
	consumerLabel string
	identity      UserIdentity
	raw           map[string]any
}

// NewContext builds a LaunchContext from a validated raw claim/parameter bag.
func NewContext(version Version, consumerID, consumerLabel string, identity UserIdentity, raw map[string]any) *LaunchContext {
	if raw == nil {
		raw = map[string]any{}
	}
	return &LaunchContext{
		version:       version,
		consumerID:    consumerID,
		consumerLabel: consumerLabel,
		identity:      identity,
		raw:           raw,
	}
}

func (c *LaunchContext) Version() Version       { return c.version }
func (c *LaunchContext) ConsumerID() string     { return c.consumerID }
func (c *LaunchContext) ConsumerLabel() string  { return c.consumerLabel }
func (c *LaunchContext) Identity() UserIdentity { return c.identity }

// Raw returns the full claim/parameter bag for attribute-mapping consumers.
func (c *LaunchContext) Raw() map[string]any { return c.raw }

// Set enriches the bag with a derived value. Identity-bearing keys are
// silently ignored; identity is fixed at validation time.
func (c *LaunchContext) Set(key string, value any) {
	switch key {
	case "sub", "name", "email", "consumer_id":
		return
	}
	c.raw[key] = value
}

// Get resolves a parameter or claim by path. Paths may address nested claim
// maps with dotted or dashed segments, e.g. "launch_presentation-document_target"
// resolves raw["...launch_presentation"]["document_target"] on a v1.3 launch.
// Top-level keys always win over path traversal.
func (c *LaunchContext) Get(path string) string {
	if v, ok := c.raw[path]; ok {
		return str(v)
	}
	if v, ok := lookupPath(c.raw, path); ok {
		return str(v)
	}
	// v1.3 nests standard attributes under claim URIs; allow the bare
	// prefix form ("context-title", "resource_link.id", ...) to reach them.
	if c.version == V1P3 {
		for _, claim := range []string{ClaimContext, ClaimResourceLink, ClaimLaunchPresentation, ClaimCustom} {
			short := claim[strings.LastIndex(claim, "/")+1:]
			if rest, ok := stripPrefix(path, short); ok {
				if m, ok := c.raw[claim].(map[string]any); ok {
					if v, ok := lookupPath(m, rest); ok {
						return str(v)
					}
				}
			}
		}
	}
	return ""
}

// ContextID returns the course/context identifier.
func (c *LaunchContext) ContextID() string {
	if c.version == V1P3 {
		return c.Get("context-id")
	}
	return c.Get("context_id")
}

func (c *LaunchContext) ContextLabel() string {
	if c.version == V1P3 {
		return c.Get("context-label")
	}
	return c.Get("context_label")
}

func (c *LaunchContext) ContextTitle() string {
	if c.version == V1P3 {
		return c.Get("context-title")
	}
	return c.Get("context_title")
}

// ResourceLinkID returns the resource-link identifier of the launch.
func (c *LaunchContext) ResourceLinkID() string {
	if c.version == V1P3 {
		return c.Get("resource_link-id")
	}
	return c.Get("resource_link_id")
}

func (c *LaunchContext) ResourceLinkTitle() string {
	if c.version == V1P3 {
		return c.Get("resource_link-title")
	}
	return c.Get("resource_link_title")
}

// ReturnURL is where the originating platform wants the user (and errors)
// sent back to. Empty when the platform supplied none.
func (c *LaunchContext) ReturnURL() string {
	if c.version == V1P3 {
		return c.Get("launch_presentation-return_url")
	}
	return c.Get("launch_presentation_return_url")
}

// CustomDestination is the optional tool-side landing page requested by the
// platform via a custom parameter.
func (c *LaunchContext) CustomDestination() string {
	if c.version == V1P3 {
		return c.Get("custom-destination")
	}
	return c.Get("custom_destination")
}

// CustomParams collects the launch's custom parameters. v1.0/1.1 prefixes
// them with "custom_"; v1.3 nests them under the custom claim.
func (c *LaunchContext) CustomParams() map[string]string {
	out := map[string]string{}
	if c.version == V1P3 {
		if m, ok := c.raw[ClaimCustom].(map[string]any); ok {
			for k, v := range m {
				out[k] = str(v)
			}
		}
		return out
	}
	for k, v := range c.raw {
		if name := strings.TrimPrefix(k, "custom_"); name != k && name != "" {
			out[name] = str(v)
		}
	}
	return out
}

// lookupPath walks nested maps, consuming path segments split on '.' or '-'.
// Segments are matched greedily so keys that themselves contain separators
// ("resource_link") still resolve.
func lookupPath(m map[string]any, path string) (any, bool) {
	if v, ok := m[path]; ok {
		return v, true
	}
	for i := len(path) - 1; i > 0; i-- {
		if path[i] != '.' && path[i] != '-' {
			continue
		}
		head, rest := path[:i], path[i+1:]
		child, ok := m[head]
		if !ok {
			continue
		}
		if rest == "" {
			return child, true
		}
		if cm, ok := child.(map[string]any); ok {
			if v, ok := lookupPath(cm, rest); ok {
				return v, true
			}
		}
	}
	return nil, false
}

func stripPrefix(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) || len(path) <= len(prefix) {
		return "", false
	}
	sep := path[len(prefix)]
	if sep != '.' && sep != '-' {
		return "", false
	}
	return path[len(prefix)+1:], true
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	// Decoded JWT claim maps carry numbers as float64 and flags as bool.
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []string:
		if len(t) > 0 {
			return t[0]
		}
		return ""
	case []any:
		if len(t) > 0 {
			return str(t[0])
		}
		return ""
	default:
		return ""
	}
}
