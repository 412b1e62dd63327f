package main

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newDictCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dict",
		Short: "Print the engine's data dictionary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRig(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer r.Close()

			var raw []byte
			if r.mcu != nil {
				raw = r.mcu.RawDictionary()
			} else {
				raw = r.device.Dictionary().Generate()
			}

			zr, err := zlib.NewReader(bytes.NewReader(raw))
			if err != nil {
				return fmt.Errorf("dictionary: %w", err)
			}
			defer zr.Close()
			doc, err := io.ReadAll(zr)
			if err != nil {
				return fmt.Errorf("dictionary: %w", err)
			}

			var out bytes.Buffer
			if err := json.Indent(&out, doc, "", "  "); err != nil {
				return err
			}
			out.WriteByte('\n')
			_, err = out.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
}
