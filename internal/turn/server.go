// turn runs a standalone TURN relay so broadcaster and viewer peers behind
// symmetric NAT can still reach each other. The signal service never talks to
// it; clients receive its address out of band in their ICE server list.
package turn

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pion/turn/v2"
	"github.com/rs/zerolog"
)

func Serve(logger *zerolog.Logger, cfg *ConfigOptions) (*turn.Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid turn config: %w", err)
	}

	udpListener, err := net.ListenPacket("udp4", "0.0.0.0:"+strconv.Itoa(cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("could not create udp4 listener: %w", err)
	}
	logger.Info().Str("host", "0.0.0.0").Int("port", cfg.Port).Msg("created udp4 listener")

	// One static user. Store only the derived auth key, never the password.
	usersMap := map[string][]byte{
		cfg.Username: turn.GenerateAuthKey(cfg.Username, cfg.Realm, cfg.Password),
	}

	s, err := turn.NewServer(turn.ServerConfig{
		LoggerFactory: adapter(&pionLogger{logger}),
		Realm:         cfg.Realm,
		AuthHandler: func(username, realm string, srcAddr net.Addr) (key []byte, ok bool) {
			if key, ok := usersMap[username]; ok {
				return key, true
			}
			return nil, false
		},
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorPortRange{
					// Advertise the public IP, listen on every interface.
					RelayAddress: net.ParseIP(cfg.PublicIP),
					Address:      "0.0.0.0",
					MinPort:      uint16(cfg.RelayMinPort),
					MaxPort:      uint16(cfg.RelayMaxPort),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not create TURN server: %w", err)
	}
	logger.Info().
		Uint("min_port", cfg.RelayMinPort).
		Uint("max_port", cfg.RelayMaxPort).
		Str("public_ip", cfg.PublicIP).
		Msg("started turn server")

	return s, nil
}
