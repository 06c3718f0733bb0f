// Package devices implements the devices command, which lists the capture
// devices the recorder can see.
package devices

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/trackmix/internal/audiocore/capture"
	"github.com/tphakala/trackmix/internal/audiocore/sources"
	"github.com/tphakala/trackmix/internal/conf"
)

// Command creates the devices command
func Command(settings *conf.Settings) *cobra.Command {
	var hardwareOnly bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Long:  "List the capture devices with the IDs accepted by audio.excludedevices, audio.systemdevice and --exclude.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := sources.NewProvider("", sources.Options{
				SampleRate:   settings.Audio.SampleRate,
				HardwareOnly: hardwareOnly,
			})
			if err != nil {
				return err
			}
			return List(cmd.Context(), provider, settings.Audio.ExcludeDevices, settings.Audio.SystemDevice, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&hardwareOnly, "hardware-only", false, "Hide ALSA plugin devices")

	return cmd
}

// List writes one line per device to w. Devices in excluded are marked, and
// systemDevice is shown as recorded for system audio.
func List(ctx context.Context, provider capture.DeviceProvider, excluded []string, systemDevice string, w io.Writer) error {
	devices, err := provider.Devices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "no capture devices found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tDEFAULT\tRECORDED")
	for _, d := range devices {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Name, yesNo(d.IsDefault), recorded(d.ID, excluded, systemDevice))
	}
	return tw.Flush()
}

func recorded(id string, excluded []string, systemDevice string) string {
	if systemDevice != "" && id == systemDevice {
		return "system"
	}
	return yesNo(!slices.Contains(excluded, id))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
