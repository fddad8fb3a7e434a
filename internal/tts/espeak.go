// Package tts speaks text on the default audio device with espeak-ng.
package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
espeak_open(const char *language, int rate)
{
	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -1; }

	espeak_VOICE specs = { 0 };
	specs.languages = language;
	if (espeak_SetVoiceByProperties(&specs) != EE_OK)
	{ return -2; }

	if (rate > 0)
	{ espeak_SetParameter(espeakRATE, rate, 0); }

	return 0;
}

static int
espeak_say(const char *text)
{
	if (!text)
	{ return -1; }

	if (espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL) != EE_OK)
	{ return -2; }

	return espeak_Synchronize() == EE_OK ? 0 : -3;
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

type Config struct {
	Language string
	// Words per minute; 0 keeps the espeak default.
	Rate int
}

// Espeak serialises speech on one espeak-ng instance.
type Espeak struct {
	mu sync.Mutex
}

func NewEspeak(cfg Config) (*Espeak, error) {
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}

	clang := C.CString(lang)
	defer C.free(unsafe.Pointer(clang))

	if rc := C.espeak_open(clang, C.int(cfg.Rate)); rc != 0 {
		return nil, fmt.Errorf("espeak init (%s): %d", lang, int(rc))
	}
	return &Espeak{}, nil
}

// Speak blocks until text has been played.
func (e *Espeak) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	if rc := C.espeak_say(ctext); rc != 0 {
		return fmt.Errorf("espeak_say failed: %d", int(rc))
	}
	return nil
}

func (e *Espeak) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	C.espeak_Terminate()
	return nil
}
