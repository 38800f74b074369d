package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-push-session/internal/platform/apns"
	"github.com/tinywideclouds/go-push-session/internal/platform/emulator"
	"github.com/tinywideclouds/go-push-session/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-session/internal/probe"
	fsStore "github.com/tinywideclouds/go-push-session/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-session/pkg/push"
	"github.com/tinywideclouds/go-push-session/sessionservice/config"
)

var (
	probeTokens  []string
	probeOwner   bool
	probeService string
	probeTitle   string
	probeBody    string
	probeData    map[string]string
	probeTimeout time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send a test notification to device tokens",
	Long: `Send a test notification through FCM or APNs to verify that a token
acquired by a session is deliverable. Targets come from --token, or from the
devices registered in Firestore for the configured owner with --owner.`,
	Example: `  pushsession probe --token abc123
  pushsession probe --owner --service apns --title "Hello"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()
		cfg, err := loadConfig(logger)
		if err != nil {
			return fmt.Errorf("config failed: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		defer cancel()

		tokens := probeTokens
		if probeOwner {
			registered, err := ownerTokens(ctx, cfg, probeService, logger)
			if err != nil {
				return err
			}
			tokens = append(tokens, registered...)
		}

		sender, err := newProbeSender(ctx, cfg, probeService, logger)
		if err != nil {
			return err
		}

		content := probe.DefaultContent()
		if probeTitle != "" {
			content.Title = probeTitle
		}
		if probeBody != "" {
			content.Body = probeBody
		}

		result, err := probe.Run(ctx, sender, tokens, content, probeData)
		if err != nil {
			return fmt.Errorf("probe failed: %w", err)
		}

		fmt.Println(result.String())
		for _, t := range result.Invalid {
			fmt.Printf("  invalid: %s\n", t)
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().StringSliceVar(&probeTokens, "token", nil, "Device token to probe (repeatable)")
	probeCmd.Flags().BoolVar(&probeOwner, "owner", false, "Also probe every device registered in Firestore for the configured owner")
	probeCmd.Flags().StringVar(&probeService, "service", "fcm", "Delivery service: fcm or apns")
	probeCmd.Flags().StringVar(&probeTitle, "title", "", "Notification title")
	probeCmd.Flags().StringVar(&probeBody, "body", "", "Notification body")
	probeCmd.Flags().StringToStringVar(&probeData, "data", nil, "Data payload as key=value pairs")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "Overall probe timeout")
	rootCmd.AddCommand(probeCmd)
}

func newProbeSender(ctx context.Context, cfg *config.Config, service string, logger *slog.Logger) (probe.Sender, error) {
	switch strings.ToLower(service) {
	case "fcm":
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FCM.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		messaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		return fcm.NewSender(messaging, cfg.FCM.ChannelID, logger), nil

	case "apns":
		if cfg.APNS.P8Path == "" {
			return nil, fmt.Errorf("apns probe requires a P8 key path (set via YAML or APNS_P8_PATH env var)")
		}
		key, err := os.ReadFile(cfg.APNS.P8Path)
		if err != nil {
			return nil, fmt.Errorf("reading APNs key: %w", err)
		}
		return apns.NewSender(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: key,
			Sandbox:      cfg.APNS.Sandbox,
		}, logger)

	default:
		return nil, fmt.Errorf("unknown service %q (want fcm or apns)", service)
	}
}

// ownerTokens lists the owner's registered tokens that the service can reach.
// APNs reaches iOS devices only; FCM reaches every platform.
func ownerTokens(ctx context.Context, cfg *config.Config, service string, logger *slog.Logger) ([]string, error) {
	if cfg.Firestore.ProjectID == "" {
		return nil, fmt.Errorf("--owner requires firestore_project_id")
	}
	owner, err := cfg.Owner()
	if err != nil {
		return nil, err
	}

	fsClient, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client failed: %w", err)
	}
	defer fsClient.Close()

	devices, err := fsStore.NewDeviceStore(fsClient, logger).Devices(ctx, owner)
	if err != nil {
		return nil, err
	}

	tokens, emulated := deliverableTokens(devices, service)
	if emulated > 0 {
		logger.Info("Skipping emulator-issued tokens", "count", emulated, "token_prefix", emulator.TokenPrefix)
	}
	logger.Debug("Registered devices loaded", "owner", owner.String(), "devices", len(devices), "targets", len(tokens))
	return tokens, nil
}

// deliverableTokens selects the tokens a provider can deliver to. Emulator
// tokens are dropped and counted.
func deliverableTokens(devices []fsStore.Device, service string) (tokens []string, emulated int) {
	for _, d := range devices {
		if emulator.IsEmulatedToken(d.Token) {
			emulated++
			continue
		}
		if strings.EqualFold(service, "apns") && d.Platform != push.PlatformIOS {
			continue
		}
		tokens = append(tokens, d.Token)
	}
	return tokens, emulated
}
