package service

import (
	"slices"
	"sort"

	"paydisco/internal/core/method"
	"paydisco/internal/services/discovery/domain"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// query is one planned verification
type query struct {
	method  method.Identifier
	apps    []domain.InstalledApp
	origins []method.Origin
}

type acceptance struct {
	app     domain.InstalledApp
	methods map[string]struct{}
}

// passState holds everything one pass learns. Only the pass loop touches it
type passState struct {
	methods map[string]method.Identifier

	// URL method name to apps declaring it as default, and to apps declaring
	// it as a non-default method
	defaults    map[string][]domain.InstalledApp
	nonDefaults map[string][]domain.InstalledApp

	// default methods of non-default declarers that were not requested but
	// must verify for origin based authorization
	auxiliary map[string]method.Identifier

	verifiedDefaults map[string]map[string]struct{}
	validOrigins     map[string]map[method.Origin]struct{}
	allOriginMethods map[string]struct{}

	accepted map[string]*acceptance
}

func newPassState(requested []string) *passState {
	st := &passState{
		methods:          map[string]method.Identifier{},
		defaults:         map[string][]domain.InstalledApp{},
		nonDefaults:      map[string][]domain.InstalledApp{},
		auxiliary:        map[string]method.Identifier{},
		verifiedDefaults: map[string]map[string]struct{}{},
		validOrigins:     map[string]map[method.Origin]struct{}{},
		allOriginMethods: map[string]struct{}{},
		accepted:         map[string]*acceptance{},
	}
	for _, s := range requested {
		if id, ok := method.Classify(s); ok {
			st.methods[id.String()] = id
		}
	}
	return st
}

// bucket sorts apps by the requested methods they declare. Token methods are
// accepted right away
func (st *passState) bucket(apps []domain.InstalledApp) {
	for _, app := range apps {
		def, hasDef := app.DefaultMethod.Get()
		for name, m := range st.methods {
			if !app.Declares(m) {
				continue
			}
			if !m.IsURI() {
				st.accept(app, name)
				continue
			}
			if hasDef && def.String() == name {
				st.defaults[name] = append(st.defaults[name], app)
				continue
			}
			st.nonDefaults[name] = append(st.nonDefaults[name], app)
			if hasDef && def.IsURI() {
				if _, requested := st.methods[def.String()]; !requested {
					st.auxiliary[def.String()] = def
				}
			}
		}
	}
	for name := range st.auxiliary {
		for _, app := range apps {
			if d, ok := app.DefaultMethod.Get(); ok && d.String() == name {
				st.defaults[name] = append(st.defaults[name], app)
			}
		}
	}
}

// plan returns the queries to run, requested methods first, and the names of
// methods dropped by the cap
func (st *passState) plan(limit int) ([]query, []string) {
	var requested, aux []string
	for name, m := range st.methods {
		if m.IsURI() && (len(st.defaults[name]) > 0 || len(st.nonDefaults[name]) > 0) {
			requested = append(requested, name)
		}
	}
	for name := range st.auxiliary {
		aux = append(aux, name)
	}
	slices.Sort(requested)
	slices.Sort(aux)
	order := slices.Concat(requested, aux)

	var qs []query
	var overflow []string
	for _, name := range order {
		if len(qs) >= limit {
			overflow = append(overflow, name)
			continue
		}
		m, ok := st.methods[name]
		if !ok {
			m = st.auxiliary[name]
		}
		var origins []method.Origin
		for _, app := range st.nonDefaults[name] {
			if o, ok := app.DefaultOrigin(); ok {
				origins = append(origins, o)
			}
		}
		qs = append(qs, query{method: m, apps: st.defaults[name], origins: lo.Uniq(origins)})
	}
	return qs, overflow
}

func (st *passState) verified(m method.Identifier, app domain.InstalledApp) {
	set, ok := st.verifiedDefaults[m.String()]
	if !ok {
		set = map[string]struct{}{}
		st.verifiedDefaults[m.String()] = set
	}
	set[app.PackageID] = struct{}{}
}

func (st *passState) validOrigin(m method.Identifier, o method.Origin) {
	set, ok := st.validOrigins[m.String()]
	if !ok {
		set = map[method.Origin]struct{}{}
		st.validOrigins[m.String()] = set
	}
	set[o] = struct{}{}
}

func (st *passState) allOrigins(m method.Identifier) {
	st.allOriginMethods[m.String()] = struct{}{}
}

func (st *passState) accept(app domain.InstalledApp, name string) {
	a, ok := st.accepted[app.PackageID]
	if !ok {
		a = &acceptance{app: app, methods: map[string]struct{}{}}
		st.accepted[app.PackageID] = a
	}
	a.methods[name] = struct{}{}
}

// isVerifiedDefault reports whether app passed verification for its own URL
// default method
func (st *passState) isVerifiedDefault(app domain.InstalledApp) bool {
	d, ok := app.DefaultMethod.Get()
	if !ok || !d.IsURI() {
		return false
	}
	_, ok = st.verifiedDefaults[d.String()][app.PackageID]
	return ok
}

// reconcile turns query results into acceptances for requested methods
func (st *passState) reconcile() {
	for name := range st.methods {
		for _, app := range st.defaults[name] {
			if _, ok := st.verifiedDefaults[name][app.PackageID]; ok {
				st.accept(app, name)
			}
		}
		if _, all := st.allOriginMethods[name]; all {
			for _, app := range st.nonDefaults[name] {
				st.accept(app, name)
			}
			continue
		}
		origins := st.validOrigins[name]
		for _, app := range st.nonDefaults[name] {
			o, ok := app.DefaultOrigin()
			if !ok {
				continue
			}
			if _, valid := origins[o]; valid && st.isVerifiedDefault(app) {
				st.accept(app, name)
			}
		}
	}
}

// dedupe drops accepted apps superseded by another accepted app. Both rules
// read the same snapshot of accepted ids
func (st *passState) dedupe() []string {
	ids := make(map[string]struct{}, len(st.accepted))
	for id := range st.accepted {
		ids[id] = struct{}{}
	}
	drop := map[string]struct{}{}
	for id, a := range st.accepted {
		for _, rel := range a.app.PreferredRelatedAppIDs {
			if _, ok := ids[rel]; ok && rel != id {
				drop[id] = struct{}{}
				break
			}
		}
		if h := a.app.AppIDToHide; h != "" && h != id {
			if _, ok := ids[h]; ok {
				drop[h] = struct{}{}
			}
		}
	}
	var keep []string
	for id := range ids {
		if _, gone := drop[id]; !gone {
			keep = append(keep, id)
		}
	}
	sort.Strings(keep)
	return keep
}

// emit reports the surviving apps then completes the sink
func (st *passState) emit(sink domain.Sink, log zerolog.Logger) {
	keep := st.dedupe()
	for _, id := range keep {
		a := st.accepted[id]
		sink.OnPaymentAppCreated(domain.NewNativeApp(a.app, lo.Keys(a.methods)))
	}
	log.Info().Int("accepted", len(st.accepted)).Int("created", len(keep)).Msg("payment apps created")
	sink.OnAllPaymentAppsCreated()
}
