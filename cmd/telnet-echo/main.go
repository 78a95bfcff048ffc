package main

import (
	"context"
	"net"
	"os"

	"github.com/rs/zerolog"
	"github.com/uSpike/telnetio"
	"github.com/uSpike/telnetio/event"
	"github.com/uSpike/telnetio/telnet"
	"github.com/urfave/cli"
	"golang.org/x/text/encoding/unicode"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	app := cli.NewApp()
	app.Name = "telnet-echo"
	app.Usage = "telnet echo server"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "addr, a",
			EnvVar: "TELNET_ECHO_ADDR",
			Value:  ":4001",
			Usage:  "address on which to listen",
		},
		cli.StringFlag{
			Name:   "log-level, l",
			EnvVar: "TELNET_ECHO_LOG_LEVEL",
			Value:  "info",
			Usage:  "minimum level to log",
		},
	}
	app.Action = func(c *cli.Context) error {
		level, err := zerolog.ParseLevel(c.String("log-level"))
		if err != nil {
			return err
		}
		return serve(c.String("addr"), logger.Level(level))
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal().Err(err).Send()
	}
}

func serve(addr string, logger zerolog.Logger) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer l.Close()

	logger.Info().Str("addr", addr).Msg("started")

	for {
		tcp, err := l.Accept()
		if err != nil {
			logger.Error().Err(err).Msg("error accepting connection")
			continue
		}

		go func() {
			conn := telnet.Wrap(context.Background(), tcp)
			defer conn.Close()

			log := logger.With().Str("peer", conn.RemoteAddr().String()).Logger()
			log.Debug().Msg("connected")
			newSession(conn, log).runForever()
			log.Debug().Msg("disconnected")
		}()
	}
}

type session struct {
	conn           telnet.Conn
	logger         zerolog.Logger
	charset        telnet.CharsetHandler
	transmitBinary telnet.TransmitBinaryHandler
	unregister     []func()
}

func newSession(conn telnet.Conn, logger zerolog.Logger) *session {
	s := &session{
		conn:   conn,
		logger: logger,
	}
	s.charset.IsServer = true
	s.unregister = append(s.unregister,
		conn.RegisterHandler(&LogHandler{Logger: logger}),
		conn.RegisterHandler(&s.transmitBinary),
		conn.RegisterHandler(&s.charset),
	)
	conn.ListenFunc(telnet.EventOption, s.handleOption)
	return s
}

func (s *session) Close() error {
	for _, unregister := range s.unregister {
		unregister()
	}
	return s.conn.Close()
}

func (s *session) handleOption(_ context.Context, ev event.Event) error {
	switch opt := ev.Data.(type) {
	case telnet.OptionData:
		switch opt.Option() {
		case telnetio.Charset:
			if opt.ChangedUs && opt.EnabledForUs() {
				return s.charset.RequestEncoding(unicode.UTF8)
			}
		}
	}
	return nil
}

func (s *session) negotiateOptions() {
	opts := []byte{
		telnetio.SuppressGoAhead,
		telnetio.EndOfRecord,
		telnetio.TransmitBinary,
		telnetio.Charset,
	}
	for _, opt := range opts {
		s.conn.GetOption(opt).Allow(true, true)
		if err := s.conn.EnableForThem(opt); err != nil {
			s.logger.Error().Err(err).Uint8("option", opt).Msg("error requesting option")
		}
		if err := s.conn.EnableForUs(opt); err != nil {
			s.logger.Error().Err(err).Uint8("option", opt).Msg("error offering option")
		}
	}
}

func (s *session) runForever() {
	defer s.Close()
	s.negotiateOptions()
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		if _, err := s.conn.Write(buf[:n]); err != nil {
			return
		}
	}
}
