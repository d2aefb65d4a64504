package remote

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/hpgtool/hpg/internal/hpgerr"
	"github.com/hpgtool/hpg/internal/protocol"
	hpgsync "github.com/hpgtool/hpg/internal/sync"
	"github.com/hpgtool/hpg/internal/task"
	"github.com/hpgtool/hpg/internal/tracker"
)

const (
	// socketWaitTimeout bounds how long the driver retries connecting to
	// the server peer's socket. Policy, not contract.
	socketWaitTimeout = 5 * time.Second
	// socketRetryDelay is the fixed back-off between connection attempts.
	socketRetryDelay = 100 * time.Millisecond
)

// SSHOptions configures one remote run.
type SSHOptions struct {
	Host         HostInfo
	ProjectDir   string
	ConfigPath   string
	IdentityFile string
	Vars         task.Variables
	Targets      []string
	RunDefaults  bool
	ShowPlan     bool
	ListTasks    bool
	Events       *tracker.Source
}

// sshSettings is the fully resolved connection target.
type sshSettings struct {
	hostname string
	port     uint16
	user     string
	identity string
}

// resolveSSH fills settings from the address, ~/.ssh/config, and defaults.
func resolveSSH(h HostInfo, identityFlag string) (sshSettings, error) {
	var s = sshSettings{hostname: h.Hostname, port: h.Port, user: h.User}

	if cfgHost := ssh_config.Get(h.Hostname, "HostName"); cfgHost != "" {
		s.hostname = cfgHost
	}
	if s.port == 0 {
		if p, err := strconv.ParseUint(ssh_config.Get(h.Hostname, "Port"), 10, 16); err == nil && p != 0 {
			s.port = uint16(p)
		} else {
			s.port = 22
		}
	}
	if s.user == "" {
		s.user = ssh_config.Get(h.Hostname, "User")
	}
	if s.user == "" {
		var u, err = user.Current()
		if err != nil {
			return s, hpgerr.Wrap(hpgerr.Config, err, "determining login user")
		}
		s.user = u.Username
	}

	var candidates []string
	if identityFlag != "" {
		candidates = []string{identityFlag}
	} else {
		if cfgID := ssh_config.Get(h.Hostname, "IdentityFile"); cfgID != "" {
			candidates = append(candidates, cfgID)
		}
		candidates = append(candidates, "~/.ssh/id_ed25519", "~/.ssh/id_rsa")
	}
	for _, cand := range candidates {
		var path, err = expandHome(cand)
		if err != nil {
			continue
		}
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			s.identity = path
			break
		}
	}
	if s.identity == "" {
		return s, hpgerr.New(hpgerr.Config, "no identity file provided or found")
	}
	return s, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	var home, err = os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// dialSSH opens an authenticated session to the resolved target.
func dialSSH(s sshSettings) (*ssh.Client, error) {
	var key, err = os.ReadFile(s.identity)
	if err != nil {
		return nil, hpgerr.Wrap(hpgerr.Config, err, "loading identity %s", s.identity)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, hpgerr.Wrap(hpgerr.Config, err, "parsing identity %s", s.identity)
	}

	var cfg = &ssh.ClientConfig{
		User: s.user,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Host verification is outside this tool's trust model.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	var addr = fmt.Sprintf("%s:%d", s.hostname, s.port)
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, hpgerr.Wrap(hpgerr.Auth, err, "authentication failed for user %s", s.user)
		}
		return nil, hpgerr.Wrap(hpgerr.Transport, err, "connecting to %s", addr)
	}
	return client, nil
}

// dialSocket connects through the SSH transport to the server peer's unix
// socket, retrying with fixed back-off until the outer timeout fires.
func dialSocket(client *ssh.Client, path string) (io.ReadWriteCloser, error) {
	var deadline = time.Now().Add(socketWaitTimeout)
	for {
		var conn, err = client.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, hpgerr.Wrap(hpgerr.Timeout, err, "timed out waiting for socket %s", path)
		}
		time.Sleep(socketRetryDelay)
	}
}

// RunSSH drives a full remote run: resolve the host through the inventory,
// start the server peer, sync the project, request execution, and replay
// streamed events onto the local tracker.
func RunSSH(opts SSHOptions, inv Inventory) error {
	var hc = inv.ConfigForHost(opts.Host.Hostname)
	var host = opts.Host
	if hc != nil {
		host.Hostname = hc.Host
		if host.Port == 0 {
			host.Port = hc.Port
		}
		if host.User == "" {
			host.User = hc.User
		}
	}

	var root, err = filepath.Abs(opts.ProjectDir)
	if err != nil {
		return hpgerr.Wrap(hpgerr.Io, err, "resolving project dir")
	}
	var vars task.Variables
	if vars, err = MergeVars(opts.Vars, hc, inv); err != nil {
		return err
	}

	settings, err := resolveSSH(host, opts.IdentityFile)
	if err != nil {
		return err
	}
	client, err := dialSSH(settings)
	if err != nil {
		return err
	}
	defer client.Close()

	var session *ssh.Session
	if session, err = client.NewSession(); err != nil {
		return hpgerr.Wrap(hpgerr.Transport, err, "opening session")
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return hpgerr.Wrap(hpgerr.Transport, err, "stdout pipe")
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return hpgerr.Wrap(hpgerr.Transport, err, "stderr pipe")
	}

	var sudoPrefix string
	if hc.sudo() {
		sudoPrefix = "sudo "
	}
	var cmdline = fmt.Sprintf("%s%s server %s", sudoPrefix, hc.remoteExe(), hc.remotePathFor(root))
	log.WithField("cmdline", cmdline).Debug("starting remote server")
	if err = session.Start(cmdline); err != nil {
		return hpgerr.Wrap(hpgerr.Transport, err, "starting remote server")
	}

	var pumps errgroup.Group
	pumps.Go(func() error { return pumpLines(stdout, "S") })
	pumps.Go(func() error { return pumpLines(stderr, "E") })

	conn, err := dialSocket(client, DefaultSocketPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	var bus = protocol.NewBus(conn)

	if err = hpgsync.Client(bus, root, opts.Events); err != nil {
		return err
	}

	var req = protocol.ExecRequest{
		Vars:        vars,
		Config:      opts.ConfigPath,
		RunDefaults: opts.RunDefaults,
		ShowPlan:    opts.ShowPlan,
		ListTasks:   opts.ListTasks,
		Targets:     opts.Targets,
	}
	if err = bus.Send(protocol.Message{ExecClient: &req}); err != nil {
		return err
	}
	if err = pumpEvents(bus, opts.Events); err != nil {
		return err
	}

	conn.Close()
	if waitErr := session.Wait(); waitErr != nil {
		log.WithField("error", waitErr).Debug("remote server exit")
	}
	_ = pumps.Wait()
	return nil
}

// pumpEvents replays streamed tracker events locally until Finish.
func pumpEvents(bus *protocol.Bus, events *tracker.Source) error {
	for {
		var msg, err = bus.Receive(0)
		if err != nil {
			return err
		}
		switch {
		case msg.ExecServer != nil && msg.ExecServer.Event != nil:
			events.Forward(*msg.ExecServer.Event)
		case msg.ExecServer != nil && msg.ExecServer.Finish:
			return nil
		case msg.Debug != "":
			events.Debug("REMOTE: %s", msg.Debug)
		case msg.Error != "":
			return hpgerr.New(hpgerr.Io, "remote: %s", msg.Error)
		default:
			return hpgerr.New(hpgerr.Protocol, "out-of-order frame %s: expected Event or Finish", msg)
		}
	}
}

// pumpLines forwards remote process output into debug logging.
func pumpLines(r io.Reader, prefix string) error {
	var scanner = bufio.NewScanner(r)
	for scanner.Scan() {
		log.Debugf("%s: %s", prefix, scanner.Text())
	}
	return scanner.Err()
}
