package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/platformatic/traffic-interceptor/pkg/api"
	"github.com/platformatic/traffic-interceptor/pkg/interceptor"
	"github.com/platformatic/traffic-interceptor/pkg/logging"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <url> [url...]",
	Short: "Fetch URLs through the interceptor",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

func init() {
	runCmd.Flags().String("inspector-url", "", "Traffic Inspector base URL (required unless --config supplies it)")
	runCmd.Flags().String("path-send-body", "/requests", "Collector path for body POSTs")
	runCmd.Flags().String("path-send-meta", "/meta", "Collector path for meta POSTs")
	runCmd.Flags().StringSlice("label", nil, "Label attached to every mirrored transaction (key=value, can be repeated)")
	runCmd.Flags().StringSlice("matching-domain", nil, "Restrict interception to a dot-prefixed domain suffix (can be repeated)")
	runCmd.Flags().Int64("max-response-size", 0, "Skip responses declaring a larger Content-Length (default 5 MiB)")
	runCmd.Flags().Int("bloom-size", 0, "Expected distinct request count for the dedup filter")
	runCmd.Flags().Float64("bloom-error-rate", 0, "Dedup filter false-positive rate")
	runCmd.Flags().String("event-log", "", "Append structured JSON-L events to this file")
	runCmd.Flags().String("config", "", "JSON file with the full options struct (flags override)")
	runCmd.Flags().Duration("timeout", 30*time.Second, "Per-request timeout")
	runCmd.Flags().Bool("verbose", false, "Enable debug logging")

	viper.BindPFlag("run.inspector-url", runCmd.Flags().Lookup("inspector-url"))
	viper.BindPFlag("run.path-send-body", runCmd.Flags().Lookup("path-send-body"))
	viper.BindPFlag("run.path-send-meta", runCmd.Flags().Lookup("path-send-meta"))
	viper.BindPFlag("run.label", runCmd.Flags().Lookup("label"))
	viper.BindPFlag("run.matching-domain", runCmd.Flags().Lookup("matching-domain"))
	viper.BindPFlag("run.max-response-size", runCmd.Flags().Lookup("max-response-size"))
	viper.BindPFlag("run.bloom-size", runCmd.Flags().Lookup("bloom-size"))
	viper.BindPFlag("run.bloom-error-rate", runCmd.Flags().Lookup("bloom-error-rate"))
	viper.BindPFlag("run.event-log", runCmd.Flags().Lookup("event-log"))
	viper.BindPFlag("run.timeout", runCmd.Flags().Lookup("timeout"))

	rootCmd.AddCommand(runCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions(cmd)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	opts.Logger = logger

	var sinks []logging.Sink
	if path := viper.GetString("run.event-log"); path != "" {
		w, err := logging.NewJSONLWriter(path)
		if err != nil {
			return err
		}
		sinks = append(sinks, w)
	}

	if len(sinks) > 0 {
		emitter := logging.NewEmitter("ti-"+uuid.NewString()[:8], sinks...)
		defer emitter.Close()
		opts.Emitter = emitter
	}

	it, err := interceptor.New(opts)
	if err != nil {
		return err
	}
	defer it.Close()

	client := &http.Client{
		Transport: it.WrapTransport(nil),
		Timeout:   viper.GetDuration("run.timeout"),
	}

	for _, target := range args {
		if err := fetch(client, target); err != nil {
			logger.Error("fetch failed", "url", target, "error", err)
		}
	}

	stats := it.Stats()
	fmt.Printf("transactions=%d admitted=%d deduplicated=%d bodies=%d metas=%d errors=%d fpp=%.4f\n",
		stats.Transactions, stats.Admitted, stats.Deduplicated,
		stats.BodiesMirrored, stats.MetasSent, stats.MirrorErrors, stats.EstimatedFPP)
	return nil
}

func buildOptions(cmd *cobra.Command) (*api.Options, error) {
	opts := &api.Options{}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		opts, err = api.ParseOptions(data)
		if err != nil {
			return nil, err
		}
	}

	if v := viper.GetString("run.inspector-url"); v != "" {
		opts.TrafficInspector.URL = v
	}
	if cmd.Flags().Changed("path-send-body") || opts.TrafficInspector.PathSendBody == "" {
		opts.TrafficInspector.PathSendBody = viper.GetString("run.path-send-body")
	}
	if cmd.Flags().Changed("path-send-meta") || opts.TrafficInspector.PathSendMeta == "" {
		opts.TrafficInspector.PathSendMeta = viper.GetString("run.path-send-meta")
	}
	if v := viper.GetInt64("run.max-response-size"); v != 0 {
		opts.MaxResponseSize = v
	}
	if v := viper.GetInt("run.bloom-size"); v != 0 {
		opts.BloomFilter.Size = v
	}
	if v := viper.GetFloat64("run.bloom-error-rate"); v != 0 {
		opts.BloomFilter.ErrorRate = v
	}
	if v := viper.GetStringSlice("run.matching-domain"); len(v) > 0 {
		opts.MatchingDomains = v
	}

	labels, err := parseLabels(viper.GetStringSlice("run.label"))
	if err != nil {
		return nil, err
	}
	if len(labels) > 0 {
		if opts.Labels == nil {
			opts.Labels = map[string]string{}
		}
		for k, v := range labels {
			opts.Labels[k] = v
		}
	}
	return opts, nil
}

func parseLabels(pairs []string) (map[string]string, error) {
	labels := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid label %q, want key=value", pair)
		}
		labels[key] = value
	}
	return labels, nil
}

func fetch(client *http.Client, target string) error {
	resp, err := client.Get(target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("%s %d (%d bytes)\n", target, resp.StatusCode, n)
	return nil
}
