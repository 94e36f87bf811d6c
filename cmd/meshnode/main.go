package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sosmesh "github.com/opd-ai/sosmesh"
	"github.com/opd-ai/sosmesh/api"
	"github.com/opd-ai/sosmesh/crypto"
	"github.com/opd-ai/sosmesh/emergency"
	"github.com/opd-ai/sosmesh/limits"
	"github.com/opd-ai/sosmesh/location"
	"github.com/opd-ai/sosmesh/messaging"
	"github.com/opd-ai/sosmesh/store"
	"github.com/opd-ai/sosmesh/transport"
	"github.com/sirupsen/logrus"
)

// passphraseEnv names the environment variable holding the key store
// passphrase.
const passphraseEnv = "SOSMESH_PASSPHRASE"

// maxDatagramSize is the largest UDP payload over IPv4.
const maxDatagramSize = 65507

// CLIConfig holds the parsed command line.
type CLIConfig struct {
	nickname        string
	peerID          string
	listenAddr      string
	groupAddr       string
	maxFrameSize    int
	defaultTTL      uint
	encrypt         bool
	identityDir     string
	autoAck         bool
	latitude        float64
	longitude       float64
	address         string
	dbPath          string
	persistInterval time.Duration
	apiAddr         string
	announceEvery   time.Duration
	logLevel        string
	logFormat       string
	help            bool
}

// parseCLIFlags parses command-line flags and returns the configuration.
func parseCLIFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	config := &CLIConfig{}

	// Identity
	fs.StringVar(&config.nickname, "nickname", "anonymous", "Nickname announced to peers")
	fs.StringVar(&config.peerID, "peer-id", "", "16 hex digit peer id (default: random)")

	// Network
	fs.StringVar(&config.listenAddr, "listen", ":47474", "UDP listen address")
	fs.StringVar(&config.groupAddr, "group", "255.255.255.255:47474", "UDP broadcast or multicast group address")
	fs.IntVar(&config.maxFrameSize, "max-frame", limits.DefaultMaxFrameSize, "Largest frame the link carries in bytes")
	fs.UintVar(&config.defaultTTL, "ttl", limits.DefaultTTL, "Hop budget of ordinary traffic")

	// Features
	fs.BoolVar(&config.encrypt, "encrypt", true, "Sign frames and encrypt private traffic")
	fs.StringVar(&config.identityDir, "identity-dir", "", "Directory of the encrypted identity; the passphrase is read from "+passphraseEnv)
	fs.BoolVar(&config.autoAck, "auto-ack", true, "Acknowledge private messages automatically")

	// Location
	fs.Float64Var(&config.latitude, "lat", 0, "Fixed latitude of this node")
	fs.Float64Var(&config.longitude, "lon", 0, "Fixed longitude of this node")
	fs.StringVar(&config.address, "address", "", "Street address reported with the fixed location")

	// Storage
	fs.StringVar(&config.dbPath, "db", "", "SQLite file for emergency registries (default: in memory only)")
	fs.DurationVar(&config.persistInterval, "persist-interval", store.DefaultPersistInterval, "How often registries are written to -db")

	// Local API
	fs.StringVar(&config.apiAddr, "api", "", "Listen address of the local HTTP API (default: disabled)")

	fs.DurationVar(&config.announceEvery, "announce-every", 30*time.Second, "Interval between presence announcements")

	// Logging
	fs.StringVar(&config.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&config.logFormat, "log-format", "text", "Log format (text, json)")

	fs.BoolVar(&config.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

// hasLocation reports whether -lat and -lon were given.
func (c *CLIConfig) hasLocation() bool {
	return c.latitude != 0 || c.longitude != 0
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(config *CLIConfig) error {
	if config.listenAddr == "" {
		return errors.New("listen address cannot be empty")
	}
	if config.groupAddr == "" {
		return errors.New("group address cannot be empty")
	}
	if config.maxFrameSize < limits.MinFrameSize || config.maxFrameSize > maxDatagramSize {
		return fmt.Errorf("max frame must be between %d and %d", limits.MinFrameSize, maxDatagramSize)
	}
	if config.defaultTTL == 0 || config.defaultTTL > 255 {
		return errors.New("ttl must be between 1 and 255")
	}
	if config.peerID != "" {
		if _, err := transport.ParsePeerID(config.peerID); err != nil {
			return fmt.Errorf("invalid peer id: %w", err)
		}
	}
	if config.hasLocation() {
		loc := location.Location{Latitude: config.latitude, Longitude: config.longitude}
		if !loc.Valid() {
			return errors.New("lat/lon out of range")
		}
	}
	if config.identityDir != "" && !config.encrypt {
		return errors.New("identity-dir requires -encrypt")
	}
	if config.dbPath != "" && config.persistInterval <= 0 {
		return errors.New("persist interval must be positive")
	}
	if config.announceEvery < 0 {
		return errors.New("announce interval cannot be negative")
	}
	if _, err := logrus.ParseLevel(config.logLevel); err != nil {
		return err
	}
	if config.logFormat != "text" && config.logFormat != "json" {
		return fmt.Errorf("unknown log format %q", config.logFormat)
	}
	return nil
}

// configureLogging applies -log-level and -log-format.
func configureLogging(config *CLIConfig) {
	level, _ := logrus.ParseLevel(config.logLevel)
	logrus.SetLevel(level)
	if config.logFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// buildOptions converts the CLI configuration into mesh options.
func buildOptions(config *CLIConfig) (*sosmesh.Options, error) {
	opts := sosmesh.NewOptions()
	opts.Nickname = config.nickname
	opts.DefaultTTL = uint8(config.defaultTTL)
	opts.AutoAck = config.autoAck

	if config.peerID != "" {
		id, err := transport.ParsePeerID(config.peerID)
		if err != nil {
			return nil, err
		}
		opts.PeerID = id
	}

	if config.encrypt {
		var identity *crypto.Identity
		var err error
		if config.identityDir != "" {
			opts.PeerID, identity, err = loadOrCreateIdentity(config.identityDir, []byte(os.Getenv(passphraseEnv)), opts.PeerID)
		} else {
			identity, err = crypto.GenerateIdentity()
		}
		if err != nil {
			return nil, fmt.Errorf("identity: %w", err)
		}
		provider, err := crypto.NewNaClProvider(identity)
		if err != nil {
			return nil, err
		}
		opts.Crypto = provider
	}

	if config.hasLocation() {
		opts.Location = &location.StaticProvider{
			Location: &location.Location{Latitude: config.latitude, Longitude: config.longitude},
			Address:  config.address,
		}
	}

	return opts, nil
}

// loadOrCreateIdentity returns the identity kept in dir, creating and saving
// one on first use. A non-zero peer overrides the stored peer id.
func loadOrCreateIdentity(dir string, passphrase []byte, peer transport.PeerID) (transport.PeerID, *crypto.Identity, error) {
	ks, err := crypto.NewKeyStore(dir, passphrase)
	if err != nil {
		return peer, nil, err
	}
	defer ks.Close()

	storedPeer, identity, err := ks.LoadIdentity()
	switch {
	case err == nil:
		if peer == (transport.PeerID{}) {
			peer = storedPeer
		}
		return peer, identity, nil
	case !errors.Is(err, crypto.ErrNoIdentity):
		return peer, nil, err
	}

	identity, err = crypto.GenerateIdentity()
	if err != nil {
		return peer, nil, err
	}
	if peer == (transport.PeerID{}) {
		if _, err := rand.Read(peer[:]); err != nil {
			return peer, nil, err
		}
	}
	if err := ks.SaveIdentity(peer, identity); err != nil {
		return peer, nil, err
	}
	return peer, identity, nil
}

// logDelegate writes mesh events to the log.
type logDelegate struct {
	sosmesh.NopDelegate
}

func (logDelegate) MessageReceived(msg *messaging.ChatMessage, from transport.PeerID) {
	logrus.WithFields(logrus.Fields{
		"from":    msg.Sender,
		"peer_id": from.String(),
		"channel": msg.Channel,
		"private": msg.Private,
	}).Info(msg.Content)
}

func (logDelegate) PeerConnected(p sosmesh.Peer) {
	logrus.WithFields(logrus.Fields{"peer_id": p.ID.String(), "nickname": p.Nickname}).Info("Peer connected")
}

func (logDelegate) PeerDisconnected(p sosmesh.Peer) {
	logrus.WithFields(logrus.Fields{"peer_id": p.ID.String(), "nickname": p.Nickname}).Info("Peer disconnected")
}

func (logDelegate) SOSMessageReceived(msg *emergency.SOSMessage) {
	fields := logrus.Fields{
		"sos_id":  msg.ID,
		"type":    msg.Type.DisplayName(),
		"urgency": msg.Urgency.DisplayName(),
		"sender":  msg.SenderName,
		"active":  msg.IsActive,
	}
	if msg.Location != nil {
		fields["location"] = location.FormatLocation(*msg.Location)
	}
	logrus.WithFields(fields).Warn("SOS received: " + msg.Description)
}

func (logDelegate) SOSResponseReceived(resp *emergency.SOSResponse) {
	logrus.WithFields(logrus.Fields{
		"sos_id":    resp.OriginalSOSID,
		"responder": resp.ResponderName,
		"response":  resp.ResponseType.DisplayName(),
	}).Info("SOS response received")
}

func (logDelegate) EmergencyServiceAnnounced(svc *emergency.ServiceAnnouncement) {
	logrus.WithFields(logrus.Fields{
		"service_id": svc.ServiceID,
		"type":       svc.ServiceType.DisplayName(),
		"name":       svc.ServiceName,
		"active":     svc.IsActive,
	}).Info("Emergency service announced")
}

// setupSignalHandling cancels ctx on SIGINT or SIGTERM.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logrus.WithField("signal", sig.String()).Info("Shutting down")
		cancel()
	}()
}

// run starts the node and blocks until ctx ends.
func run(ctx context.Context, config *CLIConfig) error {
	opts, err := buildOptions(config)
	if err != nil {
		return err
	}

	link, err := transport.NewUDPTransport(config.listenAddr, config.groupAddr, config.maxFrameSize)
	if err != nil {
		return err
	}
	defer link.Close()

	mesh, err := sosmesh.New(link, opts)
	if err != nil {
		return err
	}
	mesh.SetDelegate(logDelegate{})

	var persister *store.Persister
	if config.dbPath != "" {
		db, err := store.Open(config.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		snap, err := db.Load()
		if err != nil {
			return err
		}
		mesh.Router().Restore(snap)
		persister = store.NewPersister(db, mesh.Router(), config.persistInterval)
	}

	if err := mesh.Start(); err != nil {
		return err
	}
	defer mesh.Stop()

	if persister != nil {
		persister.Start()
		defer func() {
			if err := persister.Stop(); err != nil {
				logrus.WithError(err).Warn("Final registry save failed")
			}
		}()
	}

	logrus.WithFields(logrus.Fields{
		"peer_id":  mesh.PeerID().String(),
		"nickname": mesh.Nickname(),
	}).Info("Mesh node started")

	if err := mesh.Announce(); err != nil {
		logrus.WithError(err).Warn("Announce failed")
	}
	if config.encrypt {
		if err := mesh.ExchangeKeys(); err != nil {
			logrus.WithError(err).Warn("Key exchange failed")
		}
	}

	apiErr := make(chan error, 1)
	if config.apiAddr != "" {
		apiConfig := api.DefaultConfig()
		apiConfig.ListenAddr = config.apiAddr
		server, err := api.NewServer(mesh, apiConfig)
		if err != nil {
			return err
		}
		go func() { apiErr <- server.Start(ctx) }()
	}

	var announce <-chan time.Time
	if config.announceEvery > 0 {
		ticker := time.NewTicker(config.announceEvery)
		defer ticker.Stop()
		announce = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			if err := mesh.Leave(); err != nil {
				logrus.WithError(err).Debug("Leave failed")
			}
			return nil
		case err := <-apiErr:
			if err != nil {
				return err
			}
		case <-announce:
			if err := mesh.Announce(); err != nil {
				logrus.WithError(err).Warn("Announce failed")
			}
			if config.encrypt {
				if err := mesh.ExchangeKeys(); err != nil {
					logrus.WithError(err).Warn("Key exchange failed")
				}
			}
		}
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Println("SOS mesh node")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options]\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fs.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s -nickname rescue-7 -lat 52.52 -lon 13.405\n", os.Args[0])
	fmt.Printf("  %s -db /var/lib/sosmesh/registry.db -api 127.0.0.1:8080\n", os.Args[0])
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	config, err := parseCLIFlags(fs, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if config.help {
		printUsage(fs)
		os.Exit(0)
	}

	if err := validateCLIConfig(config); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}
	configureLogging(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	if err := run(ctx, config); err != nil {
		logrus.WithError(err).Error("Mesh node failed")
		cancel()
		os.Exit(1)
	}
}
