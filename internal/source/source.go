package source

import "github.com/mlbrnm/incidentgpt/pkg/service"

// Logger is the logging interface the sources write to.
type Logger = service.Logger
