package model

import (
	"strings"

	"github.com/juju/errors"
)

type ComponentKind int

const (
	ComponentCloud ComponentKind = iota + 1
	ComponentKubernetes
)

const (
	tokenSubscriptions = "subscriptions"
	tokenResourceGroup = "resource_group"
	tokenK8s           = "k8s"
	tokenNamespace     = "namespace"
	tokenPod           = "pod"
	tokenContainer     = "container"
)

// ComponentID is the parsed form of a hierarchical component path:
//
//	/subscriptions/{sub}[/resource_group/{rg}/{type}/{name}]
//	/k8s/{cluster}[/namespace/{ns}/{type}/{name}[/pod/{pod}/container/{c}/{image}]]
//
// Root, group and object are the three ownership levels. Pod, container and
// image only refine a kubernetes object and never take part in lookups.
type ComponentID struct {
	Kind       ComponentKind
	Root       string
	Group      string
	ObjectType string
	ObjectName string
	Pod        string
	Container  string
	Image      string
}

// CloudComponent builds a cloud id. Empty trailing parts are dropped, so a
// subscription-level record yields "/subscriptions/{sub}".
func CloudComponent(subscription, resourceGroup, objectType, objectName string) ComponentID {
	return ComponentID{
		Kind:       ComponentCloud,
		Root:       subscription,
		Group:      resourceGroup,
		ObjectType: objectType,
		ObjectName: objectName,
	}
}

// KubeComponent builds a kubernetes id.
func KubeComponent(cluster, namespace, objectType, objectName string) ComponentID {
	return ComponentID{
		Kind:       ComponentKubernetes,
		Root:       cluster,
		Group:      namespace,
		ObjectType: objectType,
		ObjectName: objectName,
	}
}

// WithContainer refines a kubernetes object id down to one container image.
func (c ComponentID) WithContainer(pod, container, image string) ComponentID {
	c.Pod = pod
	c.Container = container
	c.Image = image
	return c
}

// ParseComponentID validates s against the component id grammar. Empty strings
// and strings without a known root are NotValid errors.
func ParseComponentID(s string) (ComponentID, error) {
	if s == "" {
		return ComponentID{}, errors.NotValidf("empty component id")
	}
	var id ComponentID
	switch {
	case strings.HasPrefix(s, "/"+tokenSubscriptions+"/"):
		id.Kind = ComponentCloud
	case strings.HasPrefix(s, "/"+tokenK8s+"/"):
		id.Kind = ComponentKubernetes
	default:
		return ComponentID{}, errors.NotValidf("component id %q", s)
	}

	parts := strings.Split(strings.TrimSuffix(s, "/"), "/")[1:]
	if len(parts) < 2 || parts[1] == "" {
		return ComponentID{}, errors.NotValidf("component id %q without root", s)
	}
	id.Root = parts[1]
	if len(parts) == 2 {
		return id, nil
	}

	if len(parts) < 4 || parts[2] != id.groupToken() || parts[3] == "" {
		return ComponentID{}, errors.NotValidf("component id %q group segment", s)
	}
	id.Group = parts[3]
	if len(parts) == 4 {
		return id, nil
	}

	if len(parts) < 6 || parts[4] == "" || parts[5] == "" {
		return ComponentID{}, errors.NotValidf("component id %q object segment", s)
	}
	id.ObjectType, id.ObjectName = parts[4], parts[5]
	if len(parts) == 6 {
		return id, nil
	}

	if id.Kind != ComponentKubernetes || len(parts) < 11 || parts[6] != tokenPod || parts[8] != tokenContainer {
		return ComponentID{}, errors.NotValidf("component id %q container segment", s)
	}
	// image tags may contain slashes (registry/repo:tag)
	id.Pod, id.Container, id.Image = parts[7], parts[9], strings.Join(parts[10:], "/")
	if id.Pod == "" || id.Container == "" || id.Image == "" {
		return ComponentID{}, errors.NotValidf("component id %q container segment", s)
	}
	return id, nil
}

func (c ComponentID) rootToken() string {
	if c.Kind == ComponentKubernetes {
		return tokenK8s
	}
	return tokenSubscriptions
}

func (c ComponentID) groupToken() string {
	if c.Kind == ComponentKubernetes {
		return tokenNamespace
	}
	return tokenResourceGroup
}

// RootLevel is "/subscriptions/{sub}" or "/k8s/{cluster}".
func (c ComponentID) RootLevel() string {
	return "/" + c.rootToken() + "/" + c.Root
}

// GroupLevel is the resource group or namespace path, if the id has one.
func (c ComponentID) GroupLevel() (string, bool) {
	if c.Group == "" {
		return "", false
	}
	return c.RootLevel() + "/" + c.groupToken() + "/" + c.Group, true
}

// ObjectLevel is the object path, if the id has one.
func (c ComponentID) ObjectLevel() (string, bool) {
	group, ok := c.GroupLevel()
	if !ok || c.ObjectType == "" || c.ObjectName == "" {
		return "", false
	}
	return group + "/" + c.ObjectType + "/" + c.ObjectName, true
}

// LookupKeys returns the derivable hierarchy levels, most specific first.
func (c ComponentID) LookupKeys() []string {
	keys := make([]string, 0, 3)
	if object, ok := c.ObjectLevel(); ok {
		keys = append(keys, object)
	}
	if group, ok := c.GroupLevel(); ok {
		keys = append(keys, group)
	}
	return append(keys, c.RootLevel())
}

// String renders the most specific path the id carries. Missing levels cut the
// path short, which keeps partially known ids inside the grammar.
func (c ComponentID) String() string {
	object, ok := c.ObjectLevel()
	if !ok {
		if group, ok := c.GroupLevel(); ok {
			return group
		}
		return c.RootLevel()
	}
	if c.Kind != ComponentKubernetes || c.Pod == "" || c.Container == "" || c.Image == "" {
		return object
	}
	return object + "/" + tokenPod + "/" + c.Pod + "/" + tokenContainer + "/" + c.Container + "/" + c.Image
}
