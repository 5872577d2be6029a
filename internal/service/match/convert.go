package match

import (
	"strconv"
	"strings"

	"github.com/oggyb/studymatch/internal/db"
	svcErr "github.com/oggyb/studymatch/internal/errors"
	"github.com/oggyb/studymatch/internal/matchcache"
	"github.com/oggyb/studymatch/internal/ranking"
	"github.com/oggyb/studymatch/internal/repository"
	"github.com/oggyb/studymatch/internal/rpc/matchrpc"
)

func toProfile(u db.User) ranking.Profile {
	return ranking.Profile{
		UserID:     u.ID,
		Name:       u.Name,
		University: u.University,
		Major:      u.Major,
		Year:       u.Year,
		Interests:  u.InterestList(),
		StudyStyle: u.StudyStyle,
		Bio:        u.Bio,
	}
}

func toCandidate(m matchcache.CachedMatch) *matchrpc.Candidate {
	c := &matchrpc.Candidate{
		UserID:    strconv.FormatUint(m.UserID, 10),
		Score:     int32(m.Score),
		Reasoning: m.Reasoning,
	}
	if p := m.Profile; p != nil {
		c.Name = p.Name
		c.University = p.University
		c.Major = p.Major
		c.Year = int32(p.Year)
		c.Interests = p.Interests
		c.StudyStyle = p.StudyStyle
		c.Bio = p.Bio
	}
	return c
}

func parseUserID(field, raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, svcErr.InvalidArgument(field + " must be a valid uint64")
	}
	return id, nil
}

func parseAction(raw string) (repository.Action, error) {
	switch repository.Action(strings.ToUpper(strings.TrimSpace(raw))) {
	case repository.ActionLike:
		return repository.ActionLike, nil
	case repository.ActionPass:
		return repository.ActionPass, nil
	}
	return "", svcErr.ErrInvalidAction
}
