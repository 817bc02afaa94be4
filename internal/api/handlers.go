package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rbaliyan/postman"
	"github.com/rbaliyan/postman/internal/auth"
	"github.com/rbaliyan/postman/store"
)

type composeBody struct {
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Recipients idList `json:"recipients"`
}

func (b composeBody) request() postman.ComposeRequest {
	return postman.ComposeRequest{Subject: b.Subject, Body: b.Body, Recipients: b.Recipients}
}

type replyBody struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type visitorBody struct {
	composeBody
	Email string `json:"email"`
}

func (s *server) mailbox(c *fiber.Ctx) postman.Mailbox {
	return s.svc.Client(auth.CurrentUser(c))
}

func (s *server) render() *renderer {
	return newRenderer(s.svc.Directory())
}

type folderFunc func(postman.Mailbox, context.Context, postman.ListOptions) (*postman.MessageList, error)

func listOptions(c *fiber.Ctx) postman.ListOptions {
	return postman.ListOptions{
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}
}

func (s *server) list(c *fiber.Ctx, opts postman.ListOptions, fn func(context.Context, postman.ListOptions) (*postman.MessageList, error)) error {
	ctx := c.UserContext()
	list, err := fn(ctx, opts)
	if err != nil {
		return s.fail(c, err)
	}
	page := normalize(opts)
	return c.JSON(&listJSON{
		Count:   list.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		Results: s.render().messages(ctx, list.Messages),
	})
}

func (s *server) folder(fn folderFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		mb := s.mailbox(c)
		return s.list(c, listOptions(c), func(ctx context.Context, opts postman.ListOptions) (*postman.MessageList, error) {
			return fn(mb, ctx, opts)
		})
	}
}

func (s *server) thread(c *fiber.Ctx) error {
	mb := s.mailbox(c)
	threadID := c.Params("thread_id")
	return s.list(c, listOptions(c), func(ctx context.Context, opts postman.ListOptions) (*postman.MessageList, error) {
		return mb.Thread(ctx, threadID, opts)
	})
}

func (s *server) unreadCount(c *fiber.Ctx) error {
	n, err := s.mailbox(c).UnreadCount(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"unread_count": n})
}

type markFunc func(postman.Mailbox, context.Context, string) (*postman.Message, error)

func (s *server) mark(fn markFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		msg, err := fn(s.mailbox(c), ctx, c.Params("id"))
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(s.render().message(ctx, msg))
	}
}

func (s *server) get(c *fiber.Ctx) error {
	ctx := c.UserContext()
	msg, err := s.mailbox(c).Get(ctx, c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.render().message(ctx, msg))
}

func (s *server) delete(c *fiber.Ctx) error {
	mb := s.mailbox(c)
	id := c.Params("id")
	var err error
	if c.QueryBool("undelete", false) {
		err = mb.Undelete(c.UserContext(), id)
	} else {
		err = mb.Delete(c.UserContext(), id)
	}
	if err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *server) quote(c *fiber.Ctx) error {
	q, err := s.mailbox(c).QuoteReply(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(&quoteJSON{Subject: q.Subject, Body: q.Body})
}

func (s *server) created(c *fiber.Ctx, res *postman.ComposeResult, err error) error {
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(s.render().created(c.UserContext(), res))
}

func (s *server) compose(c *fiber.Ctx) error {
	var body composeBody
	if err := c.BodyParser(&body); err != nil {
		return malformed(c)
	}
	res, err := s.mailbox(c).Compose(c.UserContext(), body.request())
	return s.created(c, res, err)
}

func (s *server) reply(c *fiber.Ctx) error {
	var body replyBody
	if err := c.BodyParser(&body); err != nil {
		return malformed(c)
	}
	res, err := s.mailbox(c).Reply(c.UserContext(), c.Params("id"), postman.ReplyRequest{
		Subject: body.Subject,
		Body:    body.Body,
	})
	return s.created(c, res, err)
}

func (s *server) replyAll(c *fiber.Ctx) error {
	var body composeBody
	if err := c.BodyParser(&body); err != nil {
		return malformed(c)
	}
	res, err := s.mailbox(c).ReplyAll(c.UserContext(), c.Params("id"), body.request())
	return s.created(c, res, err)
}

func (s *server) forward(c *fiber.Ctx) error {
	var body composeBody
	if err := c.BodyParser(&body); err != nil {
		return malformed(c)
	}
	res, err := s.mailbox(c).Forward(c.UserContext(), c.Params("id"), body.request())
	return s.created(c, res, err)
}

func (s *server) composeAsVisitor(c *fiber.Ctx) error {
	var body visitorBody
	if err := c.BodyParser(&body); err != nil {
		return malformed(c)
	}
	res, err := s.svc.ComposeAsVisitor(c.UserContext(), body.Email, body.request())
	return s.created(c, res, err)
}

func malformed(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Malformed request."})
}

// fail maps a service error onto a response.
func (s *server) fail(c *fiber.Ctx, err error) error {
	var verr *postman.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": verr.Fields})
	case postman.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"detail": "Not found."})
	case errors.Is(err, postman.ErrNothingChanged):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "The message was not modified."})
	case errors.Is(err, postman.ErrUnknownUser):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"detail": "Unknown or inactive user."})
	case errors.Is(err, postman.ErrNotConnected):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"detail": "Service unavailable."})
	}
	s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Unable to process the request."})
}

// normalize echoes the page actually served.
func normalize(opts postman.ListOptions) postman.ListOptions {
	return store.NormalizeOptions(opts, postman.DefaultQueryLimit, postman.DefaultMaxQueryLimit)
}
