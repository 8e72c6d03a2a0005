package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/contract"
)

type ContractHandler struct {
	Contracts *contract.Service
}

func (h *ContractHandler) Routes(r fiber.Router, auth fiber.Handler) {
	r.Get("/contracts/:id", auth, h.Get)
	r.Post("/contracts/:id/sign", auth, clientOnly, h.Sign)
}

func (h *ContractHandler) Get(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	ct, err := h.Contracts.Get(c.UserContext(), id, uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": ct})
}

type signReq struct {
	ClientID  string `json:"clientId"`
	Signature string `json:"signature"`
}

// Sign records the client's counter-signature. A repeat attempt answers 409
// with code already_signed.
func (h *ContractHandler) Sign(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req signReq
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	clientID, err := actingAs(c, "clientId", req.ClientID)
	if err != nil {
		return err
	}
	ct, err := h.Contracts.Sign(c.UserContext(), contract.SignInput{
		ContractID: id,
		ClientID:   clientID,
		Signature:  req.Signature,
	})
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": ct})
}
