// Command cwsend keys text as Morse code toward a cwrecv instance. Elements
// are paced in real time at the configured speed, so the receiver hears the
// rhythm a human operator would send.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cwprotocol "github.com/tompatulpan/duration-encoded-cw-protocol-sub001"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/cw"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/transport"
)

var (
	remoteAddr string
	text       string
	wpm        int
	repeat     int
	verbose    bool
)

var morseCode = map[rune]string{
	'A': ".-", 'B': "-...", 'C': "-.-.", 'D': "-..", 'E': ".",
	'F': "..-.", 'G': "--.", 'H': "....", 'I': "..", 'J': ".---",
	'K': "-.-", 'L': ".-..", 'M': "--", 'N': "-.", 'O': "---",
	'P': ".--.", 'Q': "--.-", 'R': ".-.", 'S': "...", 'T': "-",
	'U': "..-", 'V': "...-", 'W': ".--", 'X': "-..-", 'Y': "-.--",
	'Z': "--..",
	'0': "-----", '1': ".----", '2': "..---", '3': "...--", '4': "....-",
	'5': ".....", '6': "-....", '7': "--...", '8': "---..", '9': "----.",
	'.': ".-.-.-", ',': "--..--", '?': "..--..", '/': "-..-.", '=': "-...-",
}

// element is one key transition with the time it is held.
type element struct {
	state    cw.KeyState
	duration time.Duration
}

var rootCmd = &cobra.Command{
	Use:           "cwsend",
	Short:         "Key text as Morse code over UDP",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&remoteAddr, "to", "", "receiver address, host:port")
	rootCmd.Flags().StringVarP(&text, "text", "t", "", "text to transmit")
	rootCmd.Flags().IntVar(&wpm, "wpm", 20, "keying speed in words per minute")
	rootCmd.Flags().IntVar(&repeat, "repeat", 1, "number of times to transmit the text")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = rootCmd.MarkFlagRequired("to")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if text == "" {
		text = strings.Join(args, " ")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to send: pass --text or arguments")
	}
	if repeat < 1 {
		repeat = 1
	}

	elements := textElements(text, wpm)
	if len(elements) == 0 {
		return fmt.Errorf("no sendable characters in %q", text)
	}

	sender, err := transport.NewUDPSender(remoteAddr)
	if err != nil {
		return err
	}
	defer func() { _ = sender.Close() }()

	keyer, err := cwprotocol.NewKeyer(sender)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logrus.WithFields(logrus.Fields{
		"remote":   sender.RemoteAddr().String(),
		"wpm":      wpm,
		"elements": len(elements),
		"repeat":   repeat,
	}).Info("Transmitting")

	wordGap := element{state: cw.KeyUp, duration: cw.WordGapUnits * cw.DitDuration(wpm)}
	for pass := 0; pass < repeat; pass++ {
		if pass > 0 {
			if err := key(ctx, keyer, wordGap); err != nil {
				return err
			}
		}
		for _, el := range elements {
			if err := key(ctx, keyer, el); err != nil {
				return err
			}
		}
	}

	if err := keyer.Flush(); err != nil {
		return err
	}
	logrus.Info("Transmission complete")
	return nil
}

// key sends one element and holds it for its duration, so the packet stream
// carries live keying rhythm rather than a burst.
func key(ctx context.Context, keyer *cwprotocol.Keyer, el element) error {
	if err := keyer.Key(el.state, el.duration); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(el.duration):
		return nil
	}
}

// textElements expands text into keying elements at the given speed:
// dits and dahs separated by one-dit gaps, three dits between characters,
// seven between words. Characters without a Morse encoding are skipped.
func textElements(text string, wpm int) []element {
	dit := cw.DitDuration(wpm)
	dah := cw.DahDuration(wpm)
	charGap := element{state: cw.KeyUp, duration: cw.CharGapUnits * dit}
	wordGap := element{state: cw.KeyUp, duration: cw.WordGapUnits * dit}

	words := strings.Fields(strings.ToUpper(text))
	return lo.FlatMap(words, func(word string, wi int) []element {
		var elems []element
		for _, r := range word {
			code, ok := morseCode[r]
			if !ok {
				logrus.WithFields(logrus.Fields{
					"char": string(r),
				}).Warn("No Morse encoding, skipping")
				continue
			}
			if len(elems) > 0 {
				elems = append(elems, charGap)
			}
			for si, sym := range code {
				if si > 0 {
					elems = append(elems, element{state: cw.KeyUp, duration: dit})
				}
				down := element{state: cw.KeyDown, duration: dit}
				if sym == '-' {
					down.duration = dah
				}
				elems = append(elems, down)
			}
		}
		if wi < len(words)-1 && len(elems) > 0 {
			elems = append(elems, wordGap)
		}
		return elems
	})
}
