package controllers

import (
	"github.com/Mister-Yo/whisper-protocol/internal/runtime"
	logpkg "github.com/Mister-Yo/whisper-protocol/pkg/log"
)

// Controller bundles the handlers for the public HTTP API.
type Controller struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

// New builds a Controller over the runtime.
func New(rt *runtime.Runtime, logger logpkg.Logger) *Controller {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("http"))
	}
	return &Controller{rt: rt, logger: logger}
}
