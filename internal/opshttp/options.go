package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-login/internal/probe"
)

type Options struct {
	Port         int
	Metrics      http.Handler
	EnablePprof  bool
	Probes       []probe.Mountable // mounted under /-
	UseRecoverMW bool
	OnPanic      func()
}
