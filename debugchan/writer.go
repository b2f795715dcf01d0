package debugchan

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteLines drains sub, writing one JSON line per Frame to w, until
// sub's channel is closed (by Channel.Unsubscribe/Close) or an encode
// error occurs. Generalizes the teacher's EventWriter (an io.Writer
// that forwards broadcaster output) to "one frame, one line", which is
// the debug channel's framing contract (spec §4.5): one frame = one
// line of self-delimiting structured text.
func WriteLines(w io.Writer, sub *Subscription) error {
	enc := json.NewEncoder(w)
	for frame := range sub.Frames {
		if err := enc.Encode(frame); err != nil {
			return fmt.Errorf("debugchan: encode frame: %w", err)
		}
	}
	return nil
}
