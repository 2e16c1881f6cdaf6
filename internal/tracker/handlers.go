package tracker

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(r fiber.Router, trk *Tracker, authMiddleware fiber.Handler) {
	r.Post("/start", authMiddleware, func(c *fiber.Ctx) error {
		riderID, err := riderIDFromBody(c)
		if err != nil {
			return err
		}
		started := trk.Start(c.Context(), riderID)
		return c.JSON(fiber.Map{"started": started, "status": trk.Status()})
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		trk.Stop(c.Context())
		return c.JSON(fiber.Map{"stopped": true, "status": trk.Status()})
	})

	r.Post("/toggle", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			RiderID string `json:"rider_id"`
			Enable  bool   `json:"enable"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.RiderID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "rider_id required")
		}
		ok := trk.Toggle(c.Context(), req.RiderID, req.Enable)
		return c.JSON(fiber.Map{"ok": ok, "status": trk.Status()})
	})

	r.Post("/resume", authMiddleware, func(c *fiber.Ctx) error {
		riderID, err := riderIDFromBody(c)
		if err != nil {
			return err
		}
		trk.Resume(c.Context(), riderID)
		return c.JSON(trk.Status())
	})

	r.Get("/status", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(trk.Status())
	})

	r.Get("/consent/:riderID", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"rider_id":      c.Params("riderID"),
			"consent_given": trk.HasConsent(c.Context(), c.Params("riderID")),
		})
	})

	r.Post("/consent", authMiddleware, func(c *fiber.Ctx) error {
		riderID, err := riderIDFromBody(c)
		if err != nil {
			return err
		}
		saved := trk.GrantConsent(c.Context(), riderID)
		if !saved {
			return fiber.NewError(fiber.StatusInternalServerError, "consent not saved")
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"saved": true})
	})
}

func riderIDFromBody(c *fiber.Ctx) (string, error) {
	var req struct {
		RiderID string `json:"rider_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.RiderID == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "rider_id required")
	}
	return req.RiderID, nil
}
