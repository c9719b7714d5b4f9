// Command zerotier-node is the thin host daemon around the node core
// engine: it owns the UDP socket, the sqlite state store, the admin
// socket, and the Prometheus metrics endpoint, and drives the engine with
// clock ticks exactly as spec.md §1 says a host must (the engine itself
// has no socket, filesystem, or CLI of its own).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gologme/log"
	gsyslog "github.com/hashicorp/go-syslog"
	"github.com/kardianos/minwinsvc"

	"github.com/zerotier/node-core/src/admin"
	"github.com/zerotier/node-core/src/buffer"
	"github.com/zerotier/node-core/src/config"
	"github.com/zerotier/node-core/src/core"
	"github.com/zerotier/node-core/src/identity"
	"github.com/zerotier/node-core/src/monitoring"
	"github.com/zerotier/node-core/src/statestore"
	"github.com/zerotier/node-core/src/version"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type daemon struct {
	node  *core.Node
	store *statestore.SqliteStore
	admin *admin.AdminSocket
	mon   *monitoring.Monitoring
	conn  *net.UDPConn
}

func main() {
	genconf := flag.Bool("genconf", false, "print a new config to stdout")
	useconf := flag.Bool("useconf", false, "read HJSON/JSON config from stdin")
	useconffile := flag.String("useconffile", "", "read HJSON/JSON config from specified file path")
	ver := flag.Bool("version", false, "prints the version of this build")
	logto := flag.String("logto", "stdout", "file path to log to, \"syslog\" or \"stdout\"")
	loglevel := flag.String("loglevel", "info", "loglevel to enable")
	flag.Parse()

	if *ver {
		fmt.Println("Build name:", version.BuildName())
		fmt.Println("Build version:", version.BuildVersion())
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	minwinsvc.SetOnExit(cancel)

	logger := newLogger(*logto)
	setLogLevel(*loglevel, logger)

	var cfg *config.NodeConfig
	switch {
	case *useconf:
		data, err := readAll(os.Stdin)
		if err != nil {
			logger.Errorln("reading config from stdin:", err)
			os.Exit(1)
		}
		if cfg, err = config.Decode(data); err != nil {
			logger.Errorln("decoding config:", err)
			os.Exit(1)
		}
	case *useconffile != "":
		data, err := os.ReadFile(*useconffile)
		if err != nil {
			logger.Errorln("reading config file:", err)
			os.Exit(1)
		}
		if cfg, err = config.Decode(data); err != nil {
			logger.Errorln("decoding config:", err)
			os.Exit(1)
		}
	case *genconf:
		bs, err := config.Encode(config.GenerateConfig())
		if err != nil {
			panic(err)
		}
		fmt.Println(string(bs))
		return
	default:
		flag.PrintDefaults()
		return
	}

	d, err := start(cfg, logger)
	if err != nil {
		logger.Errorln("starting node core:", err)
		os.Exit(1)
	}
	logger.Infoln("Your address is", d.node.Address().String())

	<-ctx.Done()
	logger.Infoln("Shutting down...")
	d.stop()
}

// start wires a node core instance to a UDP socket, a sqlite state store,
// and the admin/monitoring surfaces, mirroring the teacher's cmd/yggdrasil
// main() "set up each module, wire it to core, wire admin handlers" shape.
func start(cfg *config.NodeConfig, logger *log.Logger) (*daemon, error) {
	store, err := statestore.OpenSqliteStore(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(cfg.ListenPort)})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("binding UDP socket: %w", err)
	}

	d := &daemon{store: store, conn: conn}

	cb := core.Callbacks{
		StatePut: store.Callbacks(),
		WirePacketSend: func(localSocket int64, remote netip.AddrPort, data []byte) error {
			_, err := conn.WriteToUDPAddrPort(data, remote)
			return err
		},
		VirtualNetworkFrame: func(nwid uint64, sourceMAC, destMAC [6]byte, etherType uint16, vlanID uint16, frameData []byte) {
			// This build has no TAP device of its own (spec.md §1 Out of
			// scope); a host that bridges onto a real interface supplies its
			// own frame sink here.
		},
		VirtualNetworkConfig: func(nwid uint64, op int, configJSON []byte) {
			logger.Debugf("network %016x: op=%d config=%s", nwid, op, configJSON)
		},
		Event: func(ev core.Event) {
			logger.Infoln("event:", ev.Type.String())
		},
	}

	n, err := core.New(cb, time.Now().UnixMilli(), logger)
	if err != nil {
		conn.Close()
		store.Close()
		return nil, fmt.Errorf("creating node: %w", err)
	}
	d.node = n

	for _, tp := range cfg.TrustedPeers {
		id, err := identity.FromString(tp.Identity)
		if err != nil {
			logger.Warnln("skipping trusted peer with unparseable identity:", err)
			continue
		}
		n.AddPeer(id)
		if tp.Endpoint != "" {
			ep, err := netip.ParseAddrPort(tp.Endpoint)
			if err != nil {
				logger.Warnln("skipping trusted peer with unparseable endpoint:", err)
				continue
			}
			n.TryPeer(time.Now().UnixMilli(), id.Fingerprint(), id, ep)
		}
	}

	as := &admin.AdminSocket{}
	state := &config.NodeState{}
	state.Replace(*cfg)
	if err := as.Init(n, state, logger, nil); err != nil {
		logger.Warnln("admin socket init failed:", err)
	} else if err := as.Start(); err != nil {
		logger.Warnln("admin socket start failed:", err)
	}
	d.admin = as

	if cfg.MonitoringListen != "none" && cfg.MonitoringListen != "" {
		reg := prometheus.NewRegistry()
		if mon, err := monitoring.New(n, logger, reg); err != nil {
			logger.Warnln("monitoring init failed:", err)
		} else {
			d.mon = mon
			go serveMetrics(cfg.MonitoringListen, reg, logger)
		}
	}

	go d.readLoop(logger)
	go d.backgroundLoop()

	return d, nil
}

func (d *daemon) readLoop(logger *log.Logger) {
	bufs := buffer.New()
	for {
		b := bufs.Get()
		n, remote, err := d.conn.ReadFromUDPAddrPort(b.Bytes[:cap(b.Bytes)])
		if err != nil {
			bufs.Put(b)
			return
		}
		b.Bytes = b.Bytes[:n]
		code := d.node.ProcessWirePacket(time.Now().UnixMilli(), 0, remote, b.Bytes, b)
		if code.IsFatal() {
			logger.Errorln("fatal result processing wire packet:", code)
		}
	}
}

func (d *daemon) backgroundLoop() {
	next := time.Now().UnixMilli()
	for {
		time.Sleep(time.Until(time.UnixMilli(next)))
		deadline, _ := d.node.ProcessBackgroundTasks(time.Now().UnixMilli())
		next = deadline
	}
}

func (d *daemon) stop() {
	_ = d.admin.Stop()
	_ = d.mon.Stop()
	_ = d.conn.Close()
	d.node.Delete()
	_ = d.store.Close()
}

func serveMetrics(listen string, reg *prometheus.Registry, logger *log.Logger) {
	addr := strings.TrimPrefix(listen, "tcp://")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorln("metrics server stopped:", err)
	}
}

func newLogger(logto string) *log.Logger {
	switch logto {
	case "stdout":
		return log.New(os.Stdout, "", log.Flags())
	case "syslog":
		if syslogger, err := gsyslog.NewLogger(gsyslog.LOG_NOTICE, "DAEMON", version.BuildName()); err == nil {
			return log.New(syslogger, "", log.Flags()&^(log.Ldate|log.Ltime))
		}
	default:
		if logfd, err := os.OpenFile(logto, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			return log.New(logfd, "", log.Flags())
		}
	}
	return log.New(os.Stdout, "", log.Flags())
}

func setLogLevel(loglevel string, logger *log.Logger) {
	levels := [...]string{"error", "warn", "info", "debug", "trace"}
	loglevel = strings.ToLower(loglevel)
	found := false
	for _, l := range levels {
		if l == loglevel {
			found = true
			break
		}
	}
	if !found {
		loglevel = "info"
	}
	for _, l := range levels {
		logger.EnableLevel(l)
		if l == loglevel {
			break
		}
	}
}

func readAll(f *os.File) ([]byte, error) {
	return io.ReadAll(f)
}
