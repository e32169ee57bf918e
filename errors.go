package voroclust

import (
	"errors"
	"fmt"

	"github.com/TrevorS/voroclust/internal/dataio"
)

var (
	// ErrInvalidConfig is wrapped by every configuration error returned
	// from New, NewFromFile and NewSphereCoverBuilder.
	ErrInvalidConfig = errors.New("voroclust: invalid config")

	// ErrEmptyData is returned by Execute when there are no points.
	ErrEmptyData = errors.New("voroclust: data size is 0")

	// ErrNotExecuted is returned by the labeling and sphere-export
	// operations when no sphere cover exists yet.
	ErrNotExecuted = errors.New("voroclust: spheres not initialized")

	// ErrSpheresExist is returned by LoadSpheres after a cover was built
	// or loaded.
	ErrSpheresExist = errors.New("voroclust: spheres already initialized")

	// ErrNoDataTree is returned by WriteDataTree when the data tree is
	// disabled.
	ErrNoDataTree = errors.New("voroclust: data tree not initialized")

	// ErrPoolClosed is returned by TaskPool.Submit after Close.
	ErrPoolClosed = errors.New("voroclust: task pool closed")

	// ErrUnsupportedFormat is wrapped by NewFromFile for data files that
	// are neither .csv nor .bin.
	ErrUnsupportedFormat = dataio.ErrUnsupportedFormat
)

// ErrCorruptFile reports a persisted tree or sphere file whose contents
// are inconsistent with its header or with the loaded data.
type ErrCorruptFile struct {
	Kind   string
	Reason string
}

func (e *ErrCorruptFile) Error() string {
	return fmt.Sprintf("voroclust: corrupt %s file: %s", e.Kind, e.Reason)
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
