package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/evaluation"
	"github.com/trezcool/tathmini/core/room"
	"github.com/trezcool/tathmini/core/user"
)

type roomApi struct {
	svc     room.Service
	usrSvc  user.Service
	evalSvc evaluation.Service
}

func registerRoomAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc room.Service, usrSvc user.Service, evalSvc evaluation.Service) {
	api := roomApi{svc: svc, usrSvc: usrSvc, evalSvc: evalSvc}

	rg := g.Group("/rooms", jwt)
	rg.POST("", api.create, teacherMiddleware())
	rg.GET("", api.list)
	rg.POST("/join", api.join, studentMiddleware())

	dg := rg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, teacherMiddleware())
	dg.DELETE("", api.destroy, teacherMiddleware())
	dg.GET("/population", api.population)
	dg.GET("/available", api.available)
	dg.GET("/groups", api.queryGroups)
	dg.POST("/groups", api.createGroup)
	dg.GET("/targets", api.targets, studentMiddleware())
	dg.GET("/summary", api.summary, teacherMiddleware())

	gg := g.Group("/groups", jwt)
	gg.GET("/:id", api.retrieveGroup)
	gg.DELETE("/:id", api.destroyGroup)
	gg.POST("/:id/members", api.addMember, studentMiddleware())
	gg.DELETE("/:id/members/:memberID", api.removeMember, studentMiddleware())
}

// Room handlers

func (api *roomApi) create(ctx echo.Context) error {
	var data room.NewRoom
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRoom")
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	data.TeacherID = ctxUsr.ID
	if err := data.Validate(); err != nil {
		return err
	}

	rm, err := api.svc.CreateRoom(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating room")
	}
	return ctx.JSON(http.StatusCreated, rm)
}

// list returns the rooms the caller owns (teachers) or has joined (students).
func (api *roomApi) list(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var rooms []room.Room
	if claims.IsTeacher || claims.IsAdmin {
		rooms, err = api.svc.QueryOwned(ctx.Request().Context(), claims.Subject)
	} else {
		rooms, err = api.svc.QueryJoined(ctx.Request().Context(), claims.Subject)
	}
	if err != nil {
		return errors.Wrap(err, "querying rooms")
	}
	if rooms == nil {
		rooms = []room.Room{}
	}
	return ctx.JSON(http.StatusOK, rooms)
}

func (api *roomApi) join(ctx echo.Context) error {
	var data JoinRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to JoinRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	rm, err := api.svc.Join(ctx.Request().Context(), data.JoinCode, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "joining room")
	}
	return ctx.JSON(http.StatusOK, rm)
}

func (api *roomApi) retrieve(ctx echo.Context) error {
	rm, err := api.svc.GetRoom(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding room by ID")
	}
	return ctx.JSON(http.StatusOK, rm)
}

func (api *roomApi) update(ctx echo.Context) error {
	rm, err := api.getOwnedRoom(ctx)
	if err != nil {
		return err
	}

	var data room.UpdateRoom
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateRoom")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	rm, err = api.svc.UpdateRoom(ctx.Request().Context(), rm.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating room")
	}
	return ctx.JSON(http.StatusOK, rm)
}

func (api *roomApi) destroy(ctx echo.Context) error {
	rm, err := api.getOwnedRoom(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.DeleteRoom(ctx.Request().Context(), rm.ID); err != nil {
		return errors.Wrap(err, "deleting room")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *roomApi) population(ctx echo.Context) error {
	users, err := api.svc.Population(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "resolving population")
	}
	return ctx.JSON(http.StatusOK, users)
}

// available lists the population members not yet in any group, minus the caller.
func (api *roomApi) available(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	users, err := api.svc.Available(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "resolving available students")
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *roomApi) targets(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	list, err := api.evalSvc.Targets(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "listing targets")
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *roomApi) summary(ctx echo.Context) error {
	rm, err := api.getOwnedRoom(ctx)
	if err != nil {
		return err
	}
	summary, err := api.evalSvc.Summarize(ctx.Request().Context(), rm.ID)
	if err != nil {
		return errors.Wrap(err, "summarizing room")
	}
	return ctx.JSON(http.StatusOK, summary)
}

// Group handlers

func (api *roomApi) queryGroups(ctx echo.Context) error {
	groups, err := api.svc.GroupsByRoom(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying groups")
	}
	if groups == nil {
		groups = []room.Group{}
	}
	return ctx.JSON(http.StatusOK, groups)
}

// createGroup forms a group; the creating student self-appoints as leader.
func (api *roomApi) createGroup(ctx echo.Context) error {
	var data room.NewGroup
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGroup")
	}
	data.RoomID = ctx.Param("id")

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsStudent() {
		return errHttpForbidden
	}
	data.LeaderID = ctxUsr.ID

	if err := data.Validate(ctx.Request().Context(), api.svc); err != nil {
		return err
	}

	g, err := api.svc.CreateGroup(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating group")
	}
	return ctx.JSON(http.StatusCreated, g)
}

func (api *roomApi) retrieveGroup(ctx echo.Context) error {
	g, err := api.svc.GetGroup(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding group by ID")
	}
	return ctx.JSON(http.StatusOK, g)
}

// destroyGroup is allowed to the room's teacher or an admin.
func (api *roomApi) destroyGroup(ctx echo.Context) error {
	g, err := api.svc.GetGroup(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding group by ID")
	}
	rm, err := api.svc.GetRoom(ctx.Request().Context(), g.RoomID)
	if err != nil {
		return errors.Wrap(err, "finding room by ID")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !(ctxUsr.IsAdmin() || rm.TeacherID == ctxUsr.ID) {
		return errHttpForbidden
	}

	if err := api.svc.DeleteGroup(ctx.Request().Context(), g.ID); err != nil {
		return errors.Wrap(err, "deleting group")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *roomApi) addMember(ctx echo.Context) error {
	var data MemberRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MemberRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	g, err := api.svc.AddMember(ctx.Request().Context(), ctx.Param("id"), claims.Subject, data.MemberID)
	if err != nil {
		return errors.Wrap(err, "adding member")
	}
	return ctx.JSON(http.StatusOK, g)
}

func (api *roomApi) removeMember(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	g, err := api.svc.RemoveMember(ctx.Request().Context(), ctx.Param("id"), claims.Subject, ctx.Param("memberID"))
	if err != nil {
		return errors.Wrap(err, "removing member")
	}
	return ctx.JSON(http.StatusOK, g)
}

// getOwnedRoom fetches the room and ensures the caller owns it (or is admin).
func (api *roomApi) getOwnedRoom(ctx echo.Context) (room.Room, error) {
	rm, err := api.svc.GetRoom(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return room.Room{}, errors.Wrap(err, "finding room by ID")
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return room.Room{}, errors.Wrap(err, "getting context user")
	}
	if !(ctxUsr.IsAdmin() || rm.TeacherID == ctxUsr.ID) {
		return room.Room{}, errHttpForbidden
	}
	return rm, nil
}

type (
	JoinRequest struct {
		JoinCode string `json:"join_code" validate:"required"`
	}

	MemberRequest struct {
		MemberID string `json:"member_id" validate:"required"`
	}
)

func (jr *JoinRequest) Validate() error {
	jr.JoinCode = room.CleanJoinCode(jr.JoinCode)
	return core.Validate.Struct(jr)
}

func (mr *MemberRequest) Validate() error {
	mr.MemberID = core.CleanString(mr.MemberID)
	return core.Validate.Struct(mr)
}
