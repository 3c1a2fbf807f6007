package app

import (
	"fmt"

	"loreanchor/pkg/domain"
)

const takedownSubject = "著作権侵害に基づくコンテンツ削除要請 (DMCA Notice)"

const takedownBody = `件名: %s

管理者様

私「%s」は「%s」の著作権者です。
貴サイト上の以下のURLにて、私の著作物が無断で公開されていることを確認しました。

■ 侵害コンテンツURL
%s

■ オリジナル作品
タイトル: %s
登録日: %s
権利証明: 発行準備中

DMCA（デジタルミレニアム著作権法）第512条に基づき、当該コンテンツの即時削除を要請いたします。

本通知の内容は誠実かつ正確であり、私が当該著作物の正当な権利者であることを宣誓いたします。

敬具
%s
%s
`

// GenerateTakedownNotice renders the removal request for one infringement.
// Pure: the same inputs always yield the same notice, so the text can be
// copied, re-generated, and compared reliably. The registration date is a
// calendar date with no time-of-day.
func GenerateTakedownNotice(inf domain.Infringement, work domain.Work, user domain.User) domain.TakedownNotice {
	registered := work.CreatedAt.Format("2006/1/2")
	body := fmt.Sprintf(takedownBody,
		takedownSubject,
		user.Name,
		work.Title,
		inf.SiteURL,
		work.Title,
		registered,
		user.Name,
		user.Email,
	)
	return domain.TakedownNotice{Subject: takedownSubject, Body: body}
}

// TakedownNotice resolves an infringement's work and owner and renders the
// notice. A dangling reference is a missing-data failure, not a crash.
func (a *App) TakedownNotice(infringementID string) (domain.TakedownNotice, error) {
	inf, ok, err := a.store.GetInfringement(infringementID)
	if err != nil {
		return domain.TakedownNotice{}, err
	}
	if !ok {
		return domain.TakedownNotice{}, fmt.Errorf("%w: infringement %s", ErrNotFound, infringementID)
	}
	work, ok, err := a.store.GetWork(inf.WorkID)
	if err != nil {
		return domain.TakedownNotice{}, err
	}
	if !ok {
		return domain.TakedownNotice{}, fmt.Errorf("%w: work %s for infringement %s", ErrMissingData, inf.WorkID, infringementID)
	}
	user, ok, err := a.store.GetUserByID(work.UserID)
	if err != nil {
		return domain.TakedownNotice{}, err
	}
	if !ok {
		return domain.TakedownNotice{}, fmt.Errorf("%w: user %s for work %s", ErrMissingData, work.UserID, work.ID)
	}
	return GenerateTakedownNotice(inf, work, user), nil
}
