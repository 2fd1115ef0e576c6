package run

import (
	"fmt"

	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/buffer/diskbuffer"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/buffer/topology"
	"github.com/relex/slog-buffer/defs"
)

// Loader loads configuration from file and prepares buffers to be launched
//
// Loader should take care of everything derived from the config file, but not trigger anything automatically
type Loader struct {
	filepath string // config file path, empty if not loaded from file

	Config
	FS            fsys.Filesystem
	MetricFactory *promreg.MetricFactory
}

// NewLoaderFromConfigFile loads and verifies the config file, for buffers on the OS filesystem
func NewLoaderFromConfigFile(filepath string, metricPrefix string) (*Loader, error) {
	config, configErr := LoadConfigFile(filepath)
	if configErr != nil {
		return nil, configErr
	}
	loader := NewLoader(config, fsys.NewOSFilesystem(), metricPrefix)
	loader.filepath = filepath
	return loader, nil
}

// NewLoader creates a Loader from verified config
func NewLoader(config *Config, fs fsys.Filesystem, metricPrefix string) *Loader {
	return &Loader{
		Config:        *config,
		FS:            fs,
		MetricFactory: promreg.NewMetricFactory(metricPrefix, nil, nil),
	}
}

// LaunchBuffer builds the buffer of the given ID, or the first buffer if id is empty
//
// The caller is responsible to close the returned topology
func (loader *Loader) LaunchBuffer(parentLogger logger.Logger, id string) (*topology.Topology[base.RawEventBatch], error) {
	bufConfig, err := loader.FindBuffer(id)
	if err != nil {
		return nil, err
	}
	llogger := parentLogger.WithField(defs.LabelComponent, "Loader")
	if len(loader.filepath) > 0 {
		llogger = llogger.WithField("config", loader.filepath)
	}
	NewConfigStats(&loader.Config).Log(llogger)

	topo, terr := topology.BuildFromConfig[base.RawEventBatch](parentLogger, loader.FS, loader.RootPath, bufConfig,
		diskbuffer.MsgpackCodec[base.RawEventBatch]{}, loader.MetricFactory)
	if terr != nil {
		return nil, fmt.Errorf("buffer '%s': %w", bufConfig.ID, terr)
	}
	return topo, nil
}

// ListDataDirs lists the data dirs of disk stages under the configured root path
func (loader *Loader) ListDataDirs(parentLogger logger.Logger) ([]diskbuffer.DataDirInfo, error) {
	return diskbuffer.ListDataDirs(parentLogger, loader.FS, loader.RootPath)
}
