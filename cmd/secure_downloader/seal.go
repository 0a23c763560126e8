package main

import (
	"fmt"
	"io"
	"os"

	"github.com/italolelis/secure_downloader/internal/scr"
	"github.com/spf13/cobra"
)

func newSealCmd(out io.Writer) *cobra.Command {
	var aad string

	cmd := &cobra.Command{
		Use:   "seal INPUT OUTPUT",
		Short: "Encrypt a file and print the reference that decrypts it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return seal(out, args[0], args[1], aad)
		},
	}

	cmd.Flags().StringVar(&aad, "aad", "", "additional authenticated data bound to the tag")

	return cmd
}

func seal(out io.Writer, input, output, aad string) (err error) {
	src, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}

	defer func() {
		if closeErr := dst.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close output: %w", closeErr)
		}

		if err != nil {
			_ = os.Remove(output)
		}
	}()

	ref, err := scr.Seal(dst, src, aad)
	if err != nil {
		return fmt.Errorf("failed to seal: %w", err)
	}

	encoded, err := ref.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode reference: %w", err)
	}

	_, err = fmt.Fprintln(out, encoded)

	return err
}
