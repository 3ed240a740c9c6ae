package tracker

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"p2pdir/common"
	"p2pdir/registry"
)

// CodeOK is the success code of every command.
const CodeOK = 0

// Result is a command's outcome. Peers and Files are only set on success
// of LIST_USERS and LIST_CONTENT respectively.
type Result struct {
	Command string
	Code    int
	Peers   []registry.Peer
	Files   []string
}

// isListing reports whether command answers with a 1-byte code and a
// payload instead of a 4-byte code.
func isListing(command string) bool {
	return command == CmdListUsers || command == CmdListContent
}

// Encode writes the response in protocol version 1 layout.
func (res Result) Encode(w io.Writer) error {
	if !isListing(res.Command) {
		return common.WriteCode32(w, int32(res.Code))
	}

	if err := common.WriteCode8(w, uint8(res.Code)); err != nil {
		return err
	}
	if res.Code != CodeOK {
		return nil
	}

	switch res.Command {
	case CmdListUsers:
		if err := common.WriteInt(w, len(res.Peers)); err != nil {
			return err
		}
		for _, p := range res.Peers {
			if err := common.WriteString(w, p.Username); err != nil {
				return err
			}
			if err := common.WriteString(w, p.IP); err != nil {
				return err
			}
			if err := common.WriteInt(w, p.Port); err != nil {
				return err
			}
		}
	case CmdListContent:
		if err := common.WriteInt(w, len(res.Files)); err != nil {
			return err
		}
		for _, f := range res.Files {
			if err := common.WriteString(w, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Handler applies directory commands to a registry.
type Handler struct {
	reg *registry.Registry
	log zerolog.Logger
}

func NewHandler(reg *registry.Registry, log zerolog.Logger) *Handler {
	return &Handler{reg: reg, log: log}
}

// Handle runs req against the registry. req.Command must be known.
func (h *Handler) Handle(req Request) Result {
	log := h.log.With().Str("request_id", req.ID.String()).Logger()

	var res Result
	switch req.Command {
	case CmdRegister:
		res = h.register(req.Params[0], log)
	case CmdUnregister:
		res = h.unregister(req.Params[0], log)
	case CmdConnect:
		res = h.connect(req.Params[0], req.PeerIP, req.Params[1], log)
	case CmdDisconnect:
		res = h.disconnect(req.Params[0], log)
	case CmdPublish:
		res = h.publish(req.Params[0], req.Params[1], req.Params[2], log)
	case CmdDelete:
		res = h.delete(req.Params[0], req.Params[1], log)
	case CmdListUsers:
		res = h.listUsers(req.Params[0], log)
	case CmdListContent:
		res = h.listContent(req.Params[0], req.Params[1], log)
	default:
		// ReadRequest never returns unknown commands without an error.
		panic("tracker: unhandled command " + req.Command)
	}
	res.Command = req.Command
	return res
}

// unexpected maps an error the registry should never return for this
// command to the command's last failure code.
func unexpected(log zerolog.Logger, cmd string, code int, err error) Result {
	log.Error().Err(err).Str("command", cmd).Msg("unexpected registry error")
	return Result{Code: code}
}

func (h *Handler) register(user string, log zerolog.Logger) Result {
	err := h.reg.InsertUser(user)
	switch {
	case err == nil:
		log.Info().Str("user", user).Msg("user registered")
		return Result{Code: CodeOK}
	case errors.Is(err, registry.ErrUserExists):
		return Result{Code: 1}
	case errors.Is(err, registry.ErrCapacity):
		log.Warn().Str("user", user).Msg("user table full")
		return Result{Code: 2}
	default:
		return unexpected(log, CmdRegister, 2, err)
	}
}

func (h *Handler) unregister(user string, log zerolog.Logger) Result {
	removed, err := h.reg.RemoveUser(user)
	switch {
	case err == nil:
		log.Info().Str("user", user).Int("files_removed", removed).Msg("user unregistered")
		return Result{Code: CodeOK}
	case errors.Is(err, registry.ErrUserNotFound):
		return Result{Code: 1}
	default:
		return unexpected(log, CmdUnregister, 1, err)
	}
}

func (h *Handler) connect(user, ip, portField string, log zerolog.Logger) Result {
	port, clean := common.Atoi(portField)
	if !clean {
		log.Warn().Str("user", user).Str("port", portField).Int("parsed", port).Msg("port is not a clean number")
	}

	err := h.reg.Connect(user, ip, port)
	switch {
	case err == nil:
		log.Info().Str("user", user).Str("ip", ip).Int("port", port).Msg("user connected")
		return Result{Code: CodeOK}
	case errors.Is(err, registry.ErrUserNotFound):
		return Result{Code: 1}
	case errors.Is(err, registry.ErrAlreadyConnected):
		return Result{Code: 2}
	default:
		return unexpected(log, CmdConnect, 2, err)
	}
}

func (h *Handler) disconnect(user string, log zerolog.Logger) Result {
	err := h.reg.Disconnect(user)
	switch {
	case err == nil:
		log.Info().Str("user", user).Msg("user disconnected")
		return Result{Code: CodeOK}
	case errors.Is(err, registry.ErrUserNotFound):
		return Result{Code: 1}
	case errors.Is(err, registry.ErrNotConnected):
		return Result{Code: 2}
	default:
		return unexpected(log, CmdDisconnect, 2, err)
	}
}

func (h *Handler) publish(user, filename, description string, log zerolog.Logger) Result {
	err := h.reg.Publish(user, filename, description)
	switch {
	case err == nil:
		log.Info().Str("user", user).Str("file", filename).Msg("file published")
		return Result{Code: CodeOK}
	case errors.Is(err, registry.ErrUserNotFound):
		return Result{Code: 1}
	case errors.Is(err, registry.ErrNotConnected):
		return Result{Code: 2}
	case errors.Is(err, registry.ErrFileExists):
		return Result{Code: 3}
	case errors.Is(err, registry.ErrCapacity):
		log.Warn().Str("user", user).Str("file", filename).Msg("file table full")
		return Result{Code: 4}
	default:
		return unexpected(log, CmdPublish, 4, err)
	}
}

func (h *Handler) delete(user, filename string, log zerolog.Logger) Result {
	if code, ok := h.requireConnected(user); !ok {
		return Result{Code: code}
	}

	err := h.reg.RemoveFile(filename, user)
	switch {
	case err == nil:
		log.Info().Str("user", user).Str("file", filename).Msg("file deleted")
		return Result{Code: CodeOK}
	case errors.Is(err, registry.ErrFileNotFound):
		return Result{Code: 3}
	default:
		return unexpected(log, CmdDelete, 3, err)
	}
}

func (h *Handler) listUsers(requester string, log zerolog.Logger) Result {
	if code, ok := h.requireConnected(requester); !ok {
		return Result{Code: code}
	}
	peers := h.reg.ListConnectedUsers()
	log.Debug().Str("user", requester).Int("count", len(peers)).Msg("listed users")
	return Result{Code: CodeOK, Peers: peers}
}

func (h *Handler) listContent(requester, target string, log zerolog.Logger) Result {
	if code, ok := h.requireConnected(requester); !ok {
		return Result{Code: code}
	}
	if _, ok := h.reg.FindUser(target); !ok {
		return Result{Code: 3}
	}
	files := h.reg.ListFilesOf(target)
	if len(files) == 0 {
		return Result{Code: 4}
	}
	log.Debug().Str("user", requester).Str("target", target).Int("count", len(files)).Msg("listed content")
	return Result{Code: CodeOK, Files: files}
}

// requireConnected yields 1 for an unknown user and 2 for a disconnected
// one, the shared leading codes of every command acting as a connected
// user.
func (h *Handler) requireConnected(user string) (int, bool) {
	err := h.reg.CheckConnected(user)
	switch {
	case err == nil:
		return CodeOK, true
	case errors.Is(err, registry.ErrUserNotFound):
		return 1, false
	default:
		return 2, false
	}
}
