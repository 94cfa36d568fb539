package context

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/harvest/app/config"
	"go.hackfix.me/harvest/db"
	"go.hackfix.me/harvest/models"
)

// Context contains common objects used by the application. It is passed around
// the application to avoid direct dependencies on external systems, and make
// testing easier.
type Context struct {
	Ctx        context.Context    // global context
	FS         vfs.FileSystem     // filesystem
	Env        models.Environment // process environment
	Logger     *slog.Logger       // global logger
	TimeSource models.TimeSource
	Config     *config.Config
	DB         *db.DB

	// Standard streams
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Metadata
	Version *VersionInfo
}

// TimeNow returns the current time of the time source.
func (c *Context) TimeNow() time.Time {
	return c.TimeSource.Now()
}
