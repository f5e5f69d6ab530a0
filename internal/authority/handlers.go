package authority

import (
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/evidenceledger/jwcert/internal/assertion"
	"github.com/evidenceledger/jwcert/internal/cert"
	"github.com/evidenceledger/jwcert/internal/chain"
	"github.com/evidenceledger/jwcert/internal/models"
	"github.com/evidenceledger/jwcert/internal/pubkey"
)

// handleJWKS publishes the authority key as a JSON Web Key Set
func (s *Server) handleJWKS(c *fiber.Ctx) error {
	pub := s.key.Public()

	jk, err := pub.ToJWK()
	if err != nil {
		slog.Error("Failed to export root key", "error", err)
		return internalError(c)
	}
	kid, err := pub.Thumbprint()
	if err != nil {
		slog.Error("Failed to compute key ID", "error", err)
		return internalError(c)
	}
	if err := jk.Set(jwk.KeyIDKey, kid); err != nil {
		slog.Error("Failed to set key ID", "error", err)
		return internalError(c)
	}

	set := jwk.NewSet()
	if err := set.AddKey(jk); err != nil {
		slog.Error("Failed to build key set", "error", err)
		return internalError(c)
	}
	return c.JSON(set)
}

// handleSupportDocument publishes the authority key in certificate form
func (s *Server) handleSupportDocument(c *fiber.Ctx) error {
	obj, err := s.key.Public().ToSimpleObject()
	if err != nil {
		slog.Error("Failed to export root key", "error", err)
		return internalError(c)
	}
	return c.JSON(fiber.Map{
		"issuer":     s.cfg.Issuer,
		"public-key": obj,
	})
}

// handleVerifyChain verifies a serialized chain and returns the principal
// and key of its leaf
func (s *Server) handleVerifyChain(c *fiber.Ctx) error {
	var req models.VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request body")
	}

	at := s.referenceTime(req.At)
	res, err := chain.Verify(c.UserContext(), req.Certificates, at, s.resolver)
	if err != nil {
		slog.Info("Chain rejected", "length", len(req.Certificates), "error", err)
		return verificationError(c, err)
	}

	obj, err := res.PublicKey.ToSimpleObject()
	if err != nil {
		slog.Error("Failed to export leaf key", "error", err)
		return internalError(c)
	}

	slog.Info("Chain verified", "principal", res.Principal.String(), "root", res.RootIssuer)
	return c.JSON(models.VerifyResponse{
		PublicKey: obj,
		Principal: res.Principal,
	})
}

// handleVerifyAssertion verifies a backed assertion for an audience
func (s *Server) handleVerifyAssertion(c *fiber.Ctx) error {
	var req models.AssertionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request body")
	}
	if req.Audience == "" {
		return badRequest(c, "invalid_request", "Missing audience")
	}

	at := s.referenceTime(req.At)
	id, err := assertion.Verify(c.UserContext(), req.Assertion, req.Audience, at, s.resolver)
	if err != nil {
		slog.Info("Assertion rejected", "audience", req.Audience, "error", err)
		return verificationError(c, err)
	}

	slog.Info("Assertion verified", "email", id.Email, "audience", id.Audience)
	return c.JSON(models.AssertionResponse{
		Status:    "okay",
		Email:     id.Email,
		Audience:  id.Audience,
		Issuer:    id.Issuer,
		ExpiresAt: id.ExpiresAt,
	})
}

// handleIssue signs a certificate for the submitted key and principal
func (s *Server) handleIssue(c *fiber.Ctx) error {
	var req models.IssueRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request body")
	}

	subject, err := pubkey.FromSimpleObject(req.PublicKey)
	if err != nil {
		return badRequest(c, "invalid_key", err.Error())
	}
	if err := req.Principal.Validate(); err != nil {
		return badRequest(c, "invalid_principal", err.Error())
	}

	validity := s.cfg.CertValidity
	if req.ValidFor > int64(s.cfg.MaxCertValidity/time.Second) {
		return badRequest(c, "invalid_validity", "Requested validity exceeds "+s.cfg.MaxCertValidity.String())
	}
	if req.ValidFor > 0 {
		validity = time.Duration(req.ValidFor) * time.Second
	}
	if validity > s.cfg.MaxCertValidity {
		return badRequest(c, "invalid_validity", "Requested validity exceeds "+s.cfg.MaxCertValidity.String())
	}

	now := s.now()
	crt, err := cert.New(s.cfg.Issuer, now, now.Add(validity), subject, req.Principal)
	if err != nil {
		return badRequest(c, "invalid_certificate", err.Error())
	}
	token, err := crt.Sign(s.key)
	if err != nil {
		slog.Error("Failed to sign certificate", "error", err)
		return internalError(c)
	}

	issued := &models.IssuedCertificate{
		ID:        uuid.NewString(),
		Issuer:    s.cfg.Issuer,
		Principal: req.Principal,
		IssuedAt:  now,
		ExpiresAt: crt.Expires(),
		Token:     token,
	}
	if err := s.db.RecordIssued(c.UserContext(), issued); err != nil {
		slog.Error("Failed to record issued certificate", "error", err)
		return internalError(c)
	}

	slog.Info("Certificate issued",
		"id", issued.ID,
		"principal", req.Principal.String(),
		"expires", issued.ExpiresAt,
	)

	return c.Status(fiber.StatusCreated).JSON(models.IssueResponse{
		ID:          issued.ID,
		Certificate: token,
		ExpiresAt:   issued.ExpiresAt,
	})
}

// handleListIssued lists certificates that have not expired yet
func (s *Server) handleListIssued(c *fiber.Ctx) error {
	list, err := s.db.ListIssued(c.UserContext(), s.now())
	if err != nil {
		slog.Error("Failed to list issued certificates", "error", err)
		return internalError(c)
	}
	if list == nil {
		list = []models.IssuedCertificate{}
	}
	return c.JSON(list)
}

func (s *Server) handleGetIssued(c *fiber.Ctx) error {
	issued, err := s.db.GetIssued(c.UserContext(), c.Params("id"))
	if err != nil {
		slog.Error("Failed to get issued certificate", "error", err)
		return internalError(c)
	}
	if issued == nil {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{Error: "not_found"})
	}
	return c.JSON(issued)
}

func (s *Server) handleListRoots(c *fiber.Ctx) error {
	roots, err := s.db.ListTrustedRoots(c.UserContext())
	if err != nil {
		slog.Error("Failed to list trusted roots", "error", err)
		return internalError(c)
	}
	if roots == nil {
		roots = []models.TrustedRoot{}
	}
	return c.JSON(roots)
}

// handlePutRoot trusts a root key for the issuer in the path
func (s *Server) handlePutRoot(c *fiber.Ctx) error {
	issuer, err := url.PathUnescape(c.Params("issuer"))
	if err != nil || issuer == "" {
		return badRequest(c, "invalid_request", "Invalid issuer")
	}
	if issuer == s.cfg.Issuer {
		return badRequest(c, "invalid_request", "The authority's own root cannot be replaced")
	}

	var body struct {
		PublicKey pubkey.SimpleObject `json:"public-key"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid_request", "Invalid request body")
	}
	if _, err := pubkey.FromSimpleObject(body.PublicKey); err != nil {
		return badRequest(c, "invalid_key", err.Error())
	}

	root := &models.TrustedRoot{Issuer: issuer, PublicKey: body.PublicKey}
	if err := s.db.PutTrustedRoot(c.UserContext(), root); err != nil {
		slog.Error("Failed to store trusted root", "error", err)
		return internalError(c)
	}
	s.storedRoots.Forget(issuer)

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleDeleteRoot(c *fiber.Ctx) error {
	issuer, err := url.PathUnescape(c.Params("issuer"))
	if err != nil || issuer == "" {
		return badRequest(c, "invalid_request", "Invalid issuer")
	}

	removed, err := s.db.DeleteTrustedRoot(c.UserContext(), issuer)
	if err != nil {
		slog.Error("Failed to delete trusted root", "error", err)
		return internalError(c)
	}
	s.storedRoots.Forget(issuer)

	if !removed {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{Error: "not_found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// referenceTime turns epoch millis from a request into a time. Callers may
// ask about a later instant but never an earlier one, so a request cannot
// revive an expired chain or assertion.
func (s *Server) referenceTime(ms int64) time.Time {
	now := s.now()
	if at := time.UnixMilli(ms); ms > 0 && at.After(now) {
		return at
	}
	return now
}

// verificationError maps chain and assertion failures to a response. Bad
// input is a 400; anything else means trust was not established.
func verificationError(c *fiber.Ctx, err error) error {
	status := fiber.StatusUnauthorized
	kind := "verification_failed"

	switch {
	case errors.Is(err, chain.ErrEmptyChain):
		status, kind = fiber.StatusBadRequest, "empty_chain"
	case errors.Is(err, chain.ErrParse):
		status, kind = fiber.StatusBadRequest, "parse_error"
	case errors.Is(err, assertion.ErrMalformedBundle):
		status, kind = fiber.StatusBadRequest, "malformed_assertion"
	case errors.Is(err, chain.ErrNoRootKey):
		kind = "no_root_key"
	case errors.Is(err, chain.ErrBadSignature):
		kind = "bad_signature"
	case errors.Is(err, chain.ErrExpiredCertificate):
		kind = "expired_certificate"
	case errors.Is(err, cert.ErrInvalidPrincipal):
		kind = "invalid_principal"
	case errors.Is(err, assertion.ErrAssertionExpired):
		kind = "assertion_expired"
	case errors.Is(err, assertion.ErrAudienceMismatch):
		kind = "audience_mismatch"
	case errors.Is(err, assertion.ErrInvalidAssertion):
		kind = "invalid_assertion"
	}

	return c.Status(status).JSON(models.ErrorResponse{Error: kind, Message: err.Error()})
}

func badRequest(c *fiber.Ctx, kind, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{Error: kind, Message: message})
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{Error: "internal_error"})
}
