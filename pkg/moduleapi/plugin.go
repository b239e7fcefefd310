package moduleapi

import (
	"labos/pkg/domain"
)

// Registry is the installation surface handed to a plugin's Register.
type Registry interface {
	RegisterModule(descriptor Descriptor) error
	RegisterRule(rule domain.Rule)
}

// Plugin bundles one or more modules plus any rules they need.
type Plugin interface {
	Name() string
	Version() string
	Register(Registry) error
}

// Version is the moduleapi contract version plugins compile against.
const Version = "v1"
