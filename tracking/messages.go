package tracking

import (
	"time"

	"github.com/google/uuid"
)

// Message is a notification exchanged between the Manager and its components.
// The set is closed: only the types in this file implement it.
type Message interface {
	message()
}

// RecognitionStarted is sent when a new buffering cycle begins on Frame
type RecognitionStarted struct {
	Frame Frame
	Cycle uuid.UUID
}

// RecognitionFinished carries the result of a background match
type RecognitionFinished struct {
	Result RecognitionResult
}

// ActualizationFinished is sent once a replay has committed its state
type ActualizationFinished struct {
	Cycle    uuid.UUID
	Object   Object
	Replayed int
	Duration time.Duration
}

// RecognitionDropped is sent when a trigger found the recognizer busy
type RecognitionDropped struct {
	Frame Frame
}

func (RecognitionStarted) message()    {}
func (RecognitionFinished) message()   {}
func (ActualizationFinished) message() {}
func (RecognitionDropped) message()    {}
