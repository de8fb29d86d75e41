package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"casambi-go/internal/cache"
	"casambi-go/internal/client"
	"casambi-go/internal/config"
	"casambi-go/internal/crypto"
	"casambi-go/internal/discovery"
	"casambi-go/internal/mqtt"
	"casambi-go/internal/protocol"
	"casambi-go/internal/registry"
	"casambi-go/internal/session"
	"casambi-go/internal/transport"
	"casambi-go/internal/ui"
)

// Command flags
var (
	networkFlag string
	proxyFlag   string
	scanTimeout int
	groupFlag   int
	allFlag     bool

	pairName string

	mqttBroker string
	mqttUser   string
	mqttPrefix string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&networkFlag, "network", "", "Network id or name (defaults to the configured default)")
	rootCmd.PersistentFlags().StringVar(&proxyFlag, "proxy", "", "Bluetooth proxy websocket URL (skips discovery)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(networksCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(onCmd)
	rootCmd.AddCommand(offCmd)
	rootCmd.AddCommand(levelCmd)
	rootCmd.AddCommand(colorCmd)
	rootCmd.AddCommand(sceneCmd)
	rootCmd.AddCommand(bridgeCmd)
}

// scanCmd discovers Bluetooth proxies on the network
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Bluetooth proxies on the local network",
	Long: `Scan for ESPHome Bluetooth proxies using mDNS/DNS-SD discovery.

This command listens for mDNS broadcasts and displays all discovered
proxies with their addresses and metadata. A proxy relays the Bluetooth
mesh traffic so this tool can run on machines without a radio.`,
	Example: `  # Scan for 10 seconds (default)
  casambi-ctl scan

  # Quick 3-second scan
  casambi-ctl scan --timeout 3`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Scan timeout in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	fmt.Printf("Scanning for Bluetooth proxies (timeout: %ds)...\n\n", scanTimeout)

	proxies, err := discovery.ScanForProxies(time.Duration(scanTimeout) * time.Second)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(proxies) == 0 {
		fmt.Println("No proxies found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Ensure the proxy is powered on and on the same network")
		fmt.Println("  - Try increasing --timeout for slower networks")
		fmt.Println("  - Use --proxy flag to specify the websocket URL manually")
		return nil
	}

	fmt.Printf("Found %d proxy(ies):\n\n", len(proxies))

	for i, p := range proxies {
		fmt.Printf("%d. %s\n", i+1, p.Name)
		fmt.Printf("   Address: %s:%d\n", p.IP, p.Port)
		fmt.Printf("   URL:     %s\n", p.BridgeURL())
		if !p.HasBluetoothProxy() {
			fmt.Printf("   Note:    bluetooth proxy feature not advertised\n")
		}
		fmt.Println()
	}

	fmt.Println("Use 'casambi-ctl pair <network-id> --proxy <url>' to pair a network")
	return nil
}

// pairCmd stores credentials for a network
var pairCmd = &cobra.Command{
	Use:   "pair <network-id> <device-address>",
	Short: "Pair with a network using its passphrase",
	Long: `Derive and store the credential for a network from its passphrase.

The passphrase is prompted interactively and never written to disk; only
the derived 16-byte key is kept, in the local cache database. The device
address is the Bluetooth MAC of any unit in the network.`,
	Example: `  casambi-ctl pair 5b28a6... AA:BB:CC:DD:EE:FF --name "Living Room"
  casambi-ctl pair 5b28a6... AA:BB:CC:DD:EE:FF --proxy ws://192.168.1.40:6053/gatt`,
	Args: cobra.ExactArgs(2),
	RunE: runPair,
}

func init() {
	pairCmd.Flags().StringVar(&pairName, "name", "", "Friendly name for the network")
}

func runPair(cmd *cobra.Command, args []string) error {
	networkID := args[0]
	deviceAddress := args[1]

	fmt.Printf("Passphrase for network %s: ", networkID)
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(passphrase) == 0 {
		return fmt.Errorf("empty passphrase")
	}

	keyBytes, err := crypto.KeyFromPassphrase(string(passphrase), networkID)
	if err != nil {
		return fmt.Errorf("key derivation failed: %w", err)
	}

	reg, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	cachePath, err := reg.GetDefaultCachePath()
	if err != nil {
		return err
	}
	store, err := cache.Open(cachePath)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer store.Close()

	key := crypto.Key{
		ID:   0,
		Role: crypto.RoleUser,
		Name: "passphrase",
		Key:  keyBytes,
	}
	if err := store.PutKeys(networkID, []crypto.Key{key}); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	meta := reg.Networks[networkID]
	if meta == nil {
		meta = &config.NetworkMeta{ProtocolVersion: session.MaxProtocolVersion}
		reg.Networks[networkID] = meta
	}
	meta.Address = deviceAddress
	if pairName != "" {
		meta.Name = pairName
	}
	if proxyFlag != "" {
		meta.ProxyURL = proxyFlag
	}
	if reg.Preferences.DefaultNetwork == "" {
		reg.Preferences.DefaultNetwork = networkID
	}
	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Printf("✓ Paired network %s\n", networkID)
	fmt.Println("Use 'casambi-ctl monitor' to watch it live")
	return nil
}

// networksCmd lists configured networks
var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List configured networks",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := config.LoadRegistry()
		if err != nil {
			return err
		}

		if len(reg.Networks) == 0 {
			fmt.Println("No networks configured. Use 'casambi-ctl pair' first.")
			return nil
		}

		for id, meta := range reg.Networks {
			marker := " "
			if id == reg.Preferences.DefaultNetwork {
				marker = "*"
			}
			name := meta.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Printf("%s %s  %s\n", marker, id, name)
			fmt.Printf("    Device: %s\n", meta.Address)
			if meta.ProxyURL != "" {
				fmt.Printf("    Proxy:  %s\n", meta.ProxyURL)
			}
			if !meta.LastSeen.IsZero() {
				fmt.Printf("    Seen:   %s\n", meta.LastSeen.Format(time.RFC3339))
			}
		}
		return nil
	},
}

// monitorCmd runs the live dashboard
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch live unit state and switch activity",
	Long: `Connect to the network and show a live dashboard.

The dashboard lists every known unit with its on/off state and level,
and streams wall switch presses and state changes as they arrive.`,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	casa, meta, cleanup, err := connectClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	name := meta.Name
	if name == "" {
		name = "Casambi"
	}
	return ui.RunMonitor(ctx, casa, name)
}

// onCmd turns a unit (or everything) on
var onCmd = &cobra.Command{
	Use:   "on [unit-id]",
	Short: "Turn a unit on (or the whole network with --all)",
	Example: `  casambi-ctl on 3
  casambi-ctl on --all
  casambi-ctl on --group 2`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnectedClient(func(ctx context.Context, casa *client.Client) error {
			target, err := resolveTarget(args)
			if err != nil {
				return err
			}
			return casa.TurnOn(ctx, target)
		})
	},
}

// offCmd turns a unit (or everything) off
var offCmd = &cobra.Command{
	Use:   "off [unit-id]",
	Short: "Turn a unit off (or the whole network with --all)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnectedClient(func(ctx context.Context, casa *client.Client) error {
			target, err := resolveTarget(args)
			if err != nil {
				return err
			}
			return casa.TurnOff(ctx, target)
		})
	},
}

// levelCmd sets a dim level
var levelCmd = &cobra.Command{
	Use:     "level <0-100> [unit-id]",
	Short:   "Set brightness level",
	Example: `  casambi-ctl level 40 3`,
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := strconv.Atoi(args[0])
		if err != nil || level < 0 || level > 100 {
			return fmt.Errorf("invalid level %q (expected 0-100)", args[0])
		}
		return withConnectedClient(func(ctx context.Context, casa *client.Client) error {
			target, err := resolveTarget(args[1:])
			if err != nil {
				return err
			}
			return casa.SetLevel(ctx, target, uint8(level))
		})
	},
}

// colorCmd sets an RGB color
var colorCmd = &cobra.Command{
	Use:     "color <r> <g> <b> [unit-id]",
	Short:   "Set color from RGB components (0-255 each)",
	Example: `  casambi-ctl color 255 120 0 3`,
	Args:    cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rgb [3]uint8
		for i := 0; i < 3; i++ {
			v, err := strconv.Atoi(args[i])
			if err != nil || v < 0 || v > 255 {
				return fmt.Errorf("invalid component %q (expected 0-255)", args[i])
			}
			rgb[i] = uint8(v)
		}
		return withConnectedClient(func(ctx context.Context, casa *client.Client) error {
			target, err := resolveTarget(args[3:])
			if err != nil {
				return err
			}
			return casa.SetColor(ctx, target, rgb[0], rgb[1], rgb[2])
		})
	},
}

// sceneCmd recalls a scene
var sceneCmd = &cobra.Command{
	Use:     "scene <scene-id>",
	Short:   "Recall a scene",
	Example: `  casambi-ctl scene 1`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id < 0 || id > 255 {
			return fmt.Errorf("invalid scene id %q", args[0])
		}
		return withConnectedClient(func(ctx context.Context, casa *client.Client) error {
			return casa.SwitchToScene(ctx, uint8(id), 100)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{onCmd, offCmd, levelCmd, colorCmd} {
		c.Flags().IntVar(&groupFlag, "group", -1, "Target a group instead of a unit")
		c.Flags().BoolVar(&allFlag, "all", false, "Target every unit in the network")
	}
}

// bridgeCmd runs the MQTT bridge
var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Bridge the network to an MQTT broker",
	Long: `Connect to the network and publish unit state and switch events to
an MQTT broker with Home Assistant autodiscovery. Lights can then be
controlled from the broker side.

The broker password is read from the CASAMBI_MQTT_PASSWORD environment
variable, or prompted when the broker requires one. It is never stored.`,
	Example: `  casambi-ctl bridge --broker tcp://localhost:1883
  casambi-ctl bridge --broker tcp://broker:1883 --mqtt-user homeassistant`,
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().StringVar(&mqttBroker, "broker", "", "MQTT broker URL (e.g. tcp://localhost:1883)")
	bridgeCmd.Flags().StringVar(&mqttUser, "mqtt-user", "", "MQTT username")
	bridgeCmd.Flags().StringVar(&mqttPrefix, "topic-prefix", "", "MQTT topic prefix (default \"casambi\")")
}

func runBridge(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	mqttCfg := mqtt.Config{
		Broker:      mqttBroker,
		Username:    mqttUser,
		TopicPrefix: mqttPrefix,
	}
	if prefs := reg.Preferences.MQTT; prefs != nil {
		if mqttCfg.Broker == "" {
			mqttCfg.Broker = prefs.Broker
		}
		if mqttCfg.Username == "" {
			mqttCfg.Username = prefs.Username
		}
		if mqttCfg.TopicPrefix == "" {
			mqttCfg.TopicPrefix = prefs.TopicPrefix
		}
		mqttCfg.ClientID = prefs.ClientID
	}
	if mqttCfg.Broker == "" {
		return fmt.Errorf("no broker configured: use --broker or set mqtt.broker in the config file")
	}

	if mqttCfg.Username != "" {
		mqttCfg.Password = os.Getenv("CASAMBI_MQTT_PASSWORD")
		if mqttCfg.Password == "" {
			fmt.Printf("MQTT password for %s: ", mqttCfg.Username)
			pw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			mqttCfg.Password = string(pw)
		}
	}

	casa, _, cleanup, err := connectClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	bridge, err := mqtt.NewBridge(casa, mqttCfg)
	if err != nil {
		return err
	}
	bridge.Start()
	defer bridge.Stop()

	fmt.Println("Bridge running. Press Ctrl+C to stop.")
	<-ctx.Done()
	return nil
}

// resolveTarget maps positional and flag arguments to a mesh target.
func resolveTarget(args []string) (protocol.Target, error) {
	if allFlag {
		return protocol.Broadcast, nil
	}
	if groupFlag >= 0 {
		if groupFlag > 255 {
			return 0, fmt.Errorf("invalid group id %d", groupFlag)
		}
		return protocol.GroupTarget(uint8(groupFlag)), nil
	}
	if len(args) == 0 {
		return 0, fmt.Errorf("no target: give a unit id, --group, or --all")
	}
	unit, err := strconv.Atoi(args[0])
	if err != nil || unit < 0 || unit > 255 {
		return 0, fmt.Errorf("invalid unit id %q", args[0])
	}
	return protocol.UnitTarget(uint8(unit)), nil
}

// withConnectedClient connects, runs fn, and tears the session down again.
// Used by the one-shot command verbs.
func withConnectedClient(fn func(context.Context, *client.Client) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	casa, _, cleanup, err := connectClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := fn(ctx, casa); err != nil {
		return err
	}

	// Give the mesh a moment to relay before dropping the session.
	time.Sleep(300 * time.Millisecond)
	return nil
}

// connectClient resolves the network, finds a proxy, and establishes an
// authenticated session. The returned cleanup disconnects and closes the
// cache.
func connectClient(ctx context.Context) (*client.Client, *config.NetworkMeta, func(), error) {
	reg, err := config.LoadRegistry()
	if err != nil {
		return nil, nil, nil, err
	}

	networkID, meta, err := pickNetwork(reg)
	if err != nil {
		return nil, nil, nil, err
	}

	cachePath, err := reg.GetDefaultCachePath()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := cache.Open(cachePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open cache: %w", err)
	}

	keys, err := store.GetKeys(networkID)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	keyStore := crypto.NewKeyStore()
	for _, k := range keys {
		if err := keyStore.Add(k); err != nil {
			store.Close()
			return nil, nil, nil, err
		}
	}
	best, err := keyStore.Best()
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("network %s has no stored key: run 'casambi-ctl pair' first", networkID)
	}

	proxyURL := proxyFlag
	if proxyURL == "" {
		proxyURL = meta.ProxyURL
	}
	if proxyURL == "" {
		timeout := time.Duration(reg.Preferences.DiscoverTimeout) * time.Second
		fmt.Printf("No proxy configured, discovering (timeout: %s)...\n", timeout)
		proxies, err := discovery.ScanForProxies(timeout)
		if err != nil {
			store.Close()
			return nil, nil, nil, fmt.Errorf("proxy discovery failed: %w", err)
		}
		if len(proxies) == 0 {
			store.Close()
			return nil, nil, nil, fmt.Errorf("no proxy found: use --proxy to specify the websocket URL")
		}
		proxyURL = proxies[0].BridgeURL()
		fmt.Printf("Using proxy %s (%s)\n", proxies[0].Name, proxyURL)
	}

	casa := client.New(registry.New())

	if cached, found, err := store.GetNetwork(networkID); err == nil && found {
		casa.Registry().LoadNetwork(cached)
	}

	trans, err := transport.DialBridge(ctx, proxyURL, meta.Address)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("failed to reach proxy: %w", err)
	}

	protoVersion := meta.ProtocolVersion
	if protoVersion == 0 {
		protoVersion = session.MaxProtocolVersion
	}
	cfg := session.Config{Key: &best, ProtocolVersion: protoVersion}
	if err := casa.Connect(ctx, trans, cfg); err != nil {
		trans.Close()
		store.Close()
		return nil, nil, nil, fmt.Errorf("connection failed: %w", err)
	}

	meta.LastSeen = time.Now()
	if err := reg.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save config: %v\n", err)
	}

	cleanup := func() {
		casa.Disconnect()
		if n := casa.Registry().Network(); n.ID != "" {
			if err := store.PutNetwork(n); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to update cache: %v\n", err)
			}
		}
		store.Close()
	}
	return casa, meta, cleanup, nil
}

// pickNetwork chooses the network from the flag, the configured default,
// or the single configured entry.
func pickNetwork(reg *config.Registry) (string, *config.NetworkMeta, error) {
	if networkFlag != "" {
		id, meta, ok := reg.FindNetwork(networkFlag)
		if !ok {
			return "", nil, fmt.Errorf("unknown network %q", networkFlag)
		}
		return id, meta, nil
	}

	if def := reg.Preferences.DefaultNetwork; def != "" {
		if meta, ok := reg.Networks[def]; ok {
			return def, meta, nil
		}
	}

	if len(reg.Networks) == 1 {
		for id, meta := range reg.Networks {
			return id, meta, nil
		}
	}

	return "", nil, fmt.Errorf("no network selected: use --network or 'casambi-ctl pair' first")
}
