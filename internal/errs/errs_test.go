package errs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestMessage(t *testing.T) {
	assert.Equal(t, "Processing completed", Message(nil))
	assert.Equal(t, "Processing stopped", Message(errors.Wrap(ErrCancelled, "stopped after 3 frames")))
	assert.Equal(t, "Media file not found", Message(errors.Wrap(ErrSourceNotFound, "/tmp/x.mp4")))
	assert.Equal(t, "Could not read media file", Message(errors.Wrap(ErrSourceUnreadable, "probe")))
	assert.Equal(t, "Detection failed", Message(errors.Wrapf(ErrDetectorFailure, "frame %d", 2)))
	assert.Equal(t, "Could not save output", Message(ErrWrite))
	assert.Equal(t, "Processing already in progress", Message(ErrJobAlreadyRunning))
	assert.Equal(t, "Processing failed", Message(errors.New("something else")))
}
