package graph

import (
	"fmt"
	"net/http"
	"strconv"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/sirupsen/logrus"

	"github.com/0xsysr3ll/electledger/config"
	"github.com/0xsysr3ll/electledger/internal/service"
)

// GraphQLServer serves the query/mutation surface used by the bot's command
// handlers: the ballot listing, the results tally, the has-voted pre-check
// and a synchronous castVote mutation. User ids are transported as strings
// because chat-platform identities exceed GraphQL's 32-bit Int.
type GraphQLServer struct {
	schema  *graphql.Schema
	handler *relay.Handler
	cfg     *config.GraphQLConfig
	log     *logrus.Logger
}

const schemaString = `
type Candidate {
  id: ID!
  name: String!
  description: String!
}

type TallyEntry {
  name: String!
  votes: Int!
}

type VoteResponse {
  outcome: String!
  message: String!
}

type Query {
  # The ballot listing shown to voters, ordered by candidate id.
  ballot: [Candidate!]!

  # Per-candidate counts derived from the vote records.
  results: [TallyEntry!]!

  # Whether the voter's ballot is already bound.
  hasVoted(userId: String!): Boolean!
}

type Mutation {
  # Cast a vote synchronously, bypassing the event stream.
  castVote(userId: String!, selector: Int!): VoteResponse!
}

schema {
  query: Query
  mutation: Mutation
}
`

func NewGraphQLServer(electionService *service.ElectionService, cfg *config.GraphQLConfig, log *logrus.Logger) *GraphQLServer {
	resolver := &Resolver{electionService: electionService}

	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
	)

	return &GraphQLServer{
		schema:  schema,
		handler: &relay.Handler{Schema: schema},
		cfg:     cfg,
		log:     log,
	}
}

// Start blocks serving the GraphQL endpoint and playground.
func (s *GraphQLServer) Start(port int) error {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.handler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(playgroundHTML))
	})

	addr := fmt.Sprintf(":%d", port)
	s.log.WithFields(logrus.Fields{
		"addr": addr,
		"path": s.cfg.Path,
	}).Info("graphql server listening")

	return http.ListenAndServe(addr, mux)
}

// Resolver answers the schema's queries and mutations.
type Resolver struct {
	electionService *service.ElectionService
}

type CandidateResolver struct {
	ID          graphql.ID
	Name        string
	Description string
}

type TallyResolver struct {
	Name  string
	Votes int32
}

type VoteResponseResolver struct {
	Outcome string
	Message string
}

func (r *Resolver) Ballot() ([]*CandidateResolver, error) {
	candidates, err := r.electionService.ListBallot()
	if err != nil {
		return nil, err
	}

	out := make([]*CandidateResolver, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, &CandidateResolver{
			ID:          graphql.ID(strconv.FormatInt(c.ID, 10)),
			Name:        c.Name,
			Description: c.Description,
		})
	}
	return out, nil
}

func (r *Resolver) Results() ([]*TallyResolver, error) {
	entries, err := r.electionService.Results()
	if err != nil {
		return nil, err
	}

	out := make([]*TallyResolver, 0, len(entries))
	for _, e := range entries {
		out = append(out, &TallyResolver{Name: e.Name, Votes: int32(e.Votes)})
	}
	return out, nil
}

func (r *Resolver) HasVoted(args struct{ UserID string }) (bool, error) {
	userID, err := strconv.ParseInt(args.UserID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid userId %q", args.UserID)
	}

	return r.electionService.HasVoted(userID)
}

func (r *Resolver) CastVote(args struct {
	UserID   string
	Selector int32
}) (*VoteResponseResolver, error) {
	userID, err := strconv.ParseInt(args.UserID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid userId %q", args.UserID)
	}

	outcome, err := r.electionService.CastVote(userID, int(args.Selector))
	if err != nil {
		return nil, err
	}

	resp := service.ResponseFor(userID, outcome)
	return &VoteResponseResolver{
		Outcome: string(resp.Outcome),
		Message: resp.Message,
	}, nil
}

const playgroundHTML = `<!DOCTYPE html>
<html>
<head>
  <title>electledger GraphQL</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react/build/static/css/index.css" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root"></div>
  <script>
    window.addEventListener('load', function () {
      GraphQLPlayground.init(document.getElementById('root'), { endpoint: '/graphql' })
    })
  </script>
</body>
</html>`
